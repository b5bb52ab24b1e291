package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
)

// legacyPrefix is where version 1 kept outbox entries, before the key space
// was namespaced.
var legacyPrefix = []byte("outbox:")

// schema holds one upgrade per version: schema[v] moves a database from
// version v to v+1.
var schema = []func(txn *badger.Txn) error{
	// 0 -> 1: empty database.
	func(txn *badger.Txn) error {
		return nil
	},
	// 1 -> 2: entries move from legacyPrefix to outboxPrefix, keeping their
	// sequence numbers.
	func(txn *badger.Txn) error {
		var keys, vals [][]byte
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(legacyPrefix); it.ValidForPrefix(legacyPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
			vals = append(vals, val)
		}
		it.Close()

		for i, key := range keys {
			if len(key) != len(legacyPrefix)+8 {
				return fmt.Errorf("malformed outbox key: %q", key)
			}
			seq := entrySeqAt(key, len(legacyPrefix))
			if err := txn.Set(entryKey(seq), vals[i]); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	},
}

// dbVersion is the layout written by this package.
var dbVersion = len(schema)

// MigrateLatest upgrades the database in one transaction. id names the
// database in errors, such as its directory.
func MigrateLatest(db *badger.DB, id string) error {
	return db.Update(func(txn *badger.Txn) error {
		version, err := getVersion(txn)
		if err != nil {
			return MigrationError{OldVersion: version, NewVersion: dbVersion, Path: id, Cause: err}
		}
		if version > dbVersion {
			return MigrationError{OldVersion: version, NewVersion: dbVersion, Path: id, Cause: errors.New("database is newer than the supported version")}
		}
		for v := version; v < dbVersion; v++ {
			if err := schema[v](txn); err != nil {
				return MigrationError{OldVersion: v, NewVersion: dbVersion, Path: id, Cause: err}
			}
		}
		if version == dbVersion {
			return nil
		}
		return setVersion(txn, dbVersion)
	})
}

func getVersion(txn *badger.Txn) (int, error) {
	var version int
	if err := getItem(txn, versionKey, &version); err != nil && err != badger.ErrKeyNotFound {
		return version, err
	}
	return version, nil
}

func setVersion(txn *badger.Txn, version int) error {
	return setItem(txn, versionKey, &version)
}

// MigrationError is returned by Open when the stored layout cannot be
// upgraded.
type MigrationError struct {
	OldVersion int
	NewVersion int
	Path       string
	Cause      error
}

func (err MigrationError) Error() string {
	return fmt.Sprintf("badger outbox at %q: cannot migrate from version %d to %d: %s", err.Path, err.OldVersion, err.NewVersion, err.Cause)
}

func (err MigrationError) Unwrap() error {
	return err.Cause
}
