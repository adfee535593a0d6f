package core

import (
	"github.com/niclabs/cardmw/storage"
	"github.com/niclabs/cardmw/storage/sqlite3"
	"github.com/pkg/errors"
)

// NewDirectory opens the key directory of kind dbType. An empty dbType
// means no directory and returns nil.
func NewDirectory(dbType string) (storage.KeyDirectory, error) {
	switch dbType {
	case "":
		return nil, nil
	case "sqlite3":
		conf, err := sqlite3.GetConfig()
		if err != nil {
			return nil, err
		}
		db, err := sqlite3.Open(conf)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, errors.Errorf("storage option %q not found", dbType)
	}
}
