package sqlite3

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the sqlite3 section of the configuration.
type Config struct {
	Path string
}

// GetConfig reads the sqlite3 section of the loaded configuration.
func GetConfig() (*Config, error) {
	var conf Config
	if err := viper.UnmarshalKey("sqlite3", &conf); err != nil {
		return nil, errors.Wrap(err, "invalid sqlite3 section")
	}
	if conf.Path == "" {
		return nil, errors.New("sqlite3 path not defined")
	}
	return &conf, nil
}

// Open opens the key directory described by conf and creates its tables.
func Open(conf *Config) (*DB, error) {
	db, err := GetDatabase(conf.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
