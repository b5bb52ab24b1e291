package badger

import (
	"encoding/binary"
	"io/ioutil"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/vipnode/duplex/outbox"
)

type badgerTemp struct {
	*badgerOutbox
	Dir string
}

func (o badgerTemp) Close() error {
	defer os.RemoveAll(o.Dir)
	return o.badgerOutbox.Close()
}

func tempOptions(dir string) badger.Options {
	return badger.DefaultOptions(dir).WithLogger(nil)
}

func OpenTemp() (*badgerTemp, error) {
	dir, err := ioutil.TempDir("", "duplextest")
	if err != nil {
		return nil, err
	}
	o, err := Open(tempOptions(dir))
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &badgerTemp{o, dir}, nil
}

func TestBadgerOutbox(t *testing.T) {
	outbox.TestSuite(t, func() outbox.Outbox {
		o, err := OpenTemp()
		if err != nil {
			t.Fatal(err)
		}
		return o
	})
}

func TestBadgerOutboxReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "duplextest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	o, err := Open(tempOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"first", "second", "third"} {
		if err := o.Push([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	if err := o.Pop(); err != nil {
		t.Fatal(err)
	}
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}

	o, err = Open(tempOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	if got, want := o.Len(), 2; got != want {
		t.Fatalf("got: %d; want %d", got, want)
	}
	msg, ok, err := o.Peek()
	if err != nil || !ok {
		t.Fatalf("peek failed: ok=%t err=%v", ok, err)
	}
	if got, want := string(msg), "second"; got != want {
		t.Errorf("got: %q; want %q", got, want)
	}

	// New entries go after the recovered tail.
	if err := o.Push([]byte("fourth")); err != nil {
		t.Fatal(err)
	}
	var got []string
	for o.Len() > 0 {
		msg, _, err := o.Peek()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(msg))
		if err := o.Pop(); err != nil {
			t.Fatal(err)
		}
	}
	if want := []string{"second", "third", "fourth"}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("got: %q; want %q", got, want)
	}
}

func TestMigration(t *testing.T) {
	o, err := OpenTemp()
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	err = o.db.View(func(txn *badger.Txn) error {
		version, err := getVersion(txn)
		if err != nil {
			return err
		}
		if version != dbVersion {
			t.Errorf("incorrect version on fresh database: %d", version)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMigrationTooNew(t *testing.T) {
	o, err := OpenTemp()
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	if err := o.db.Update(func(txn *badger.Txn) error {
		return setVersion(txn, dbVersion+1)
	}); err != nil {
		t.Fatal(err)
	}
	err = MigrateLatest(o.db, o.Dir)
	if _, ok := err.(MigrationError); !ok {
		t.Errorf("expected MigrationError, got: %v", err)
	}
}

func TestMigrationLegacyKeys(t *testing.T) {
	dir, err := ioutil.TempDir("", "duplextest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// A version 1 database with two entries under the old prefix.
	db, err := badger.Open(tempOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		for seq, msg := range map[uint64]string{7: "first", 8: "second"} {
			key := make([]byte, len(legacyPrefix)+8)
			copy(key, legacyPrefix)
			binary.BigEndian.PutUint64(key[len(legacyPrefix):], seq)
			if err := txn.Set(key, []byte(msg)); err != nil {
				return err
			}
		}
		return setVersion(txn, 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	o, err := Open(tempOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	if got, want := o.Len(), 2; got != want {
		t.Fatalf("got: %d; want %d", got, want)
	}
	for _, want := range []string{"first", "second"} {
		msg, _, err := o.Peek()
		if err != nil {
			t.Fatal(err)
		}
		if got := string(msg); got != want {
			t.Errorf("got: %q; want %q", got, want)
		}
		if err := o.Pop(); err != nil {
			t.Fatal(err)
		}
	}
	err = o.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(7)); err != badger.ErrKeyNotFound {
			t.Errorf("popped entry still stored: %v", err)
		}
		version, err := getVersion(txn)
		if version != dbVersion {
			t.Errorf("got: version %d; want %d", version, dbVersion)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}
