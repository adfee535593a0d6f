package storage

import (
	"github.com/google/logger"
	"github.com/niclabs/cardmw/objects"
	"github.com/pkg/errors"
)

// Exporter is a card whose keys can be read back.
type Exporter interface {
	Keys() []*objects.KeyHandle
	Export(path objects.Path) ([]byte, error)
}

// Importer is a card that accepts keys.
type Importer interface {
	Import(k objects.KeyHandle, material []byte) (*objects.KeyHandle, error)
}

// SaveCard replaces the keys of token in dir with the keys of card.
func SaveCard(dir KeyDirectory, token string, card Exporter) error {
	keys := card.Keys()
	records := make([]*KeyRecord, 0, len(keys))
	for _, k := range keys {
		material, err := card.Export(k.Path)
		if err != nil {
			return errors.Wrapf(err, "cannot export key %q", k.Label)
		}
		records = append(records, NewRecord(token, k, material))
	}
	if err := dir.SaveToken(token, records); err != nil {
		return errors.Wrapf(err, "cannot save token %q", token)
	}
	logger.Infof("saved %d keys of token %q", len(records), token)
	return nil
}

// LoadCard imports the keys of token saved in dir into card and returns
// their number.
func LoadCard(dir KeyDirectory, token string, card Importer) (int, error) {
	records, err := dir.Keys(token)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot read token %q", token)
	}
	for _, r := range records {
		k, err := r.Handle()
		if err != nil {
			return 0, err
		}
		if _, err := card.Import(*k, r.Material); err != nil {
			return 0, errors.Wrapf(err, "cannot import key %q", r.Label)
		}
	}
	logger.Infof("loaded %d keys of token %q", len(records), token)
	return len(records), nil
}
