// Package core loads the configuration of the middleware and builds the
// pieces it describes: the logger, the key directory and the readers.
package core

import (
	"time"

	"github.com/niclabs/cardmw/criptoki"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Criptoki CriptokiConfig
	Logging  LogConfig
	Storage  StorageConfig
	Readers  []*ReaderConfig
	Metrics  MetricsConfig
}

type CriptokiConfig struct {
	ManufacturerID string
	Description    string
	VersionMajor   uint8
	VersionMinor   uint8
	SlotsPerReader int
	PINReference   int
	AppDir         string
}

type LogConfig struct {
	File    string
	Verbose bool
	Syslog  bool
}

type StorageConfig struct {
	// Type is the key directory kind. Only "sqlite3" exists; empty keeps
	// the keys in memory.
	Type string
}

// ReaderConfig describes a reader with a virtual card.
type ReaderConfig struct {
	Name    string
	Token   string
	UserPIN string
	SOPIN   string
}

type MetricsConfig struct {
	Listen  string
	Path    string
	Timeout time.Duration
}

func setDefaults() {
	def := criptoki.DefaultConfig()
	viper.SetDefault("criptoki.manufacturerid", def.ManufacturerID)
	viper.SetDefault("criptoki.description", def.LibraryDescription)
	viper.SetDefault("criptoki.versionmajor", def.VersionMajor)
	viper.SetDefault("criptoki.versionminor", def.VersionMinor)
	viper.SetDefault("criptoki.slotsperreader", def.SlotsPerReader)
	viper.SetDefault("criptoki.pinreference", def.PINReference)
	viper.SetDefault("metrics.listen", ":9464")
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.timeout", 5*time.Second)
}

// LoadConfig reads the configuration from file or, when file is empty,
// from config.* in /etc/cardmw, $HOME/.cardmw or the working directory.
// A missing config file in the search paths leaves the defaults.
func LoadConfig(file string) (*Config, error) {
	setDefaults()
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("/etc/cardmw/")
		viper.AddConfigPath("$HOME/.cardmw")
		viper.AddConfigPath("./")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "cannot read config")
		}
	}
	return GetConfig()
}

// GetConfig unmarshals the loaded configuration.
func GetConfig() (*Config, error) {
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &conf, nil
}

// Module returns the configuration of the criptoki module.
func (c CriptokiConfig) Module() criptoki.Config {
	return criptoki.Config{
		ManufacturerID:     c.ManufacturerID,
		LibraryDescription: c.Description,
		VersionMajor:       c.VersionMajor,
		VersionMinor:       c.VersionMinor,
		SlotsPerReader:     c.SlotsPerReader,
		PINReference:       c.PINReference,
		AppDir:             c.AppDir,
	}
}
