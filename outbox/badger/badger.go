// Package badger implements a durable outbox.Outbox on top of Badger, so
// that messages buffered during an outage survive a process restart.
package badger

import (
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/vipnode/duplex/outbox"
)

// Open returns an outbox.Outbox implementation using Badger as the storage
// driver. The outbox should be .Close()'d after use.
func Open(opts badger.Options) (*badgerOutbox, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := MigrateLatest(db, opts.Dir); err != nil {
		db.Close()
		return nil, err
	}
	o := &badgerOutbox{db: db}
	err = db.View(func(txn *badger.Txn) error {
		first, last, ok := seqBounds(txn)
		if ok {
			o.head, o.tail = first, last+1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

var _ outbox.Outbox = &badgerOutbox{}

type badgerOutbox struct {
	db *badger.DB

	// Entries live at keys [head, tail).
	mu   sync.Mutex
	head uint64
	tail uint64
}

func (o *badgerOutbox) Push(msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(o.tail), msg)
	})
	if err != nil {
		return err
	}
	o.tail++
	return nil
}

func (o *badgerOutbox) Peek() ([]byte, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.head == o.tail {
		return nil, false, nil
	}
	var msg []byte
	err := o.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(o.head))
		if err != nil {
			return err
		}
		msg, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

func (o *badgerOutbox) Pop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.head == o.tail {
		return outbox.ErrEmpty
	}
	err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(o.head))
	})
	if err != nil {
		return err
	}
	o.head++
	return nil
}

func (o *badgerOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int(o.tail - o.head)
}

func (o *badgerOutbox) Close() error {
	return o.db.Close()
}
