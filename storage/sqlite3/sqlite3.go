// Package sqlite3 is a key directory kept in a SQLite database.
package sqlite3

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/niclabs/cardmw/objects"
	"github.com/niclabs/cardmw/storage"
	"github.com/pkg/errors"
)

// DB is a wrapper over a sql.DB object, complying with the key directory
// interface.
type DB struct {
	*sql.DB
}

var _ storage.KeyDirectory = (*DB)(nil)

// GetDatabase opens the database at path.
func GetDatabase(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open key directory %s", path)
	}
	return &DB{DB: db}, nil
}

// Init creates the tables if they don't exist yet.
func (db *DB) Init() error {
	for _, stmt := range CreateStmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "cannot create key directory tables")
		}
	}
	return nil
}

func (db *DB) SaveToken(token string, keys []*storage.KeyRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	// Rollback is a no-op once committed.
	defer tx.Rollback()

	if _, err := tx.Exec(CleanKeysQuery, token); err != nil {
		return errors.Wrapf(err, "cannot clean keys of token %q", token)
	}
	keyStmt, err := tx.Prepare(InsertKeyQuery)
	if err != nil {
		return err
	}
	defer keyStmt.Close()
	for _, k := range keys {
		var ref sql.NullInt64
		if k.KeyRef != nil {
			ref = sql.NullInt64{Int64: int64(*k.KeyRef), Valid: true}
		}
		_, err := keyStmt.Exec(token, k.ID, k.Label, int(k.Class), int(k.Type), int64(k.Usage), k.Size,
			k.Path, k.AID, int(k.PathType), k.Native, ref, k.Material)
		if err != nil {
			return errors.Wrapf(err, "cannot save key %q", k.Label)
		}
	}
	return tx.Commit()
}

func (db *DB) Keys(token string) ([]*storage.KeyRecord, error) {
	rows, err := db.Query(GetKeysQuery, token)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read keys of token %q", token)
	}
	defer rows.Close()

	var keys []*storage.KeyRecord
	for rows.Next() {
		var (
			k                    storage.KeyRecord
			class, typ, pathType int
			usage                int64
			ref                  sql.NullInt64
		)
		err := rows.Scan(&k.ID, &k.Label, &class, &typ, &usage, &k.Size,
			&k.Path, &k.AID, &pathType, &k.Native, &ref, &k.Material)
		if err != nil {
			return nil, err
		}
		k.Token = token
		k.Class = objects.KeyClass(class)
		k.Type = objects.KeyType(typ)
		k.Usage = objects.Usage(usage)
		k.PathType = objects.PathType(pathType)
		if ref.Valid {
			k.KeyRef = objects.Ref(int(ref.Int64))
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (db *DB) Tokens() ([]string, error) {
	rows, err := db.Query(GetTokensQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (db *DB) Close() error {
	return db.DB.Close()
}
