// Package storage keeps the key directory of software tokens between runs.
package storage

import (
	"encoding/hex"

	"github.com/niclabs/cardmw/objects"
	"github.com/pkg/errors"
)

// KeyRecord is a key of a token as kept in a key directory.
type KeyRecord struct {
	ID       string
	Token    string
	Label    string
	Class    objects.KeyClass
	Type     objects.KeyType
	Usage    objects.Usage
	Size     int
	Path     string // hex
	AID      string // hex
	PathType objects.PathType
	Native   bool
	KeyRef   *int
	Material []byte
}

// KeyDirectory stores the keys of tokens.
type KeyDirectory interface {
	// Init creates the directory if it does not exist yet.
	Init() error

	// SaveToken replaces the keys of token with keys.
	SaveToken(token string, keys []*KeyRecord) error

	// Keys returns the keys of token in the order they were saved.
	Keys(token string) ([]*KeyRecord, error)

	// Tokens returns the labels of the tokens with saved keys.
	Tokens() ([]string, error)

	// Close releases the directory. It is not usable afterwards.
	Close() error
}

// NewRecord describes k of token with its exported material.
func NewRecord(token string, k *objects.KeyHandle, material []byte) *KeyRecord {
	r := &KeyRecord{
		ID:       k.ID,
		Token:    token,
		Label:    k.Label,
		Class:    k.Class,
		Type:     k.Type,
		Usage:    k.Usage,
		Size:     k.Size,
		Path:     hex.EncodeToString(k.Path.Value),
		AID:      hex.EncodeToString(k.Path.AID),
		PathType: k.Path.Type,
		Native:   k.Native,
		Material: material,
	}
	if k.KeyRef != nil {
		r.KeyRef = objects.Ref(*k.KeyRef)
	}
	return r
}

// Handle returns the key handle described by r.
func (r *KeyRecord) Handle() (*objects.KeyHandle, error) {
	value, err := hex.DecodeString(r.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "key %s has an invalid path", r.ID)
	}
	aid, err := hex.DecodeString(r.AID)
	if err != nil {
		return nil, errors.Wrapf(err, "key %s has an invalid AID", r.ID)
	}
	k := &objects.KeyHandle{
		ID:     r.ID,
		Label:  r.Label,
		Class:  r.Class,
		Type:   r.Type,
		Usage:  r.Usage,
		Size:   r.Size,
		Native: r.Native,
		Path:   objects.Path{Value: value, AID: aid, Type: r.PathType},
	}
	if len(value) == 0 {
		k.Path.Value = nil
	}
	if len(aid) == 0 {
		k.Path.AID = nil
	}
	if r.KeyRef != nil {
		k.KeyRef = objects.Ref(*r.KeyRef)
	}
	return k, nil
}
