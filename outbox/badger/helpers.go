package badger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/dgraph-io/badger/v2"
)

var (
	versionKey   = []byte("dpx:version")
	outboxPrefix = []byte("dpx:outbox:")
)

// entryKey returns the key for the outbox entry at position seq. Keys sort
// in sequence order.
func entryKey(seq uint64) []byte {
	key := make([]byte, len(outboxPrefix)+8)
	copy(key, outboxPrefix)
	binary.BigEndian.PutUint64(key[len(outboxPrefix):], seq)
	return key
}

func entrySeq(key []byte) uint64 {
	return entrySeqAt(key, len(outboxPrefix))
}

func entrySeqAt(key []byte, offset int) uint64 {
	return binary.BigEndian.Uint64(key[offset:])
}

func getItem(txn *badger.Txn, key []byte, into interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return gob.NewDecoder(bytes.NewReader(val)).Decode(into)
	})
}

func setItem(txn *badger.Txn, key []byte, val interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(val); err != nil {
		return err
	}
	return txn.Set(key, buf.Bytes())
}

// seqBounds returns the first and last sequence numbers stored under the
// outbox prefix. ok is false if there are none.
func seqBounds(txn *badger.Txn) (first, last uint64, ok bool) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	it.Seek(outboxPrefix)
	if !it.ValidForPrefix(outboxPrefix) {
		it.Close()
		return 0, 0, false
	}
	first = entrySeq(it.Item().Key())
	it.Close()

	opts.Reverse = true
	rit := txn.NewIterator(opts)
	defer rit.Close()
	rit.Seek(append(append([]byte{}, outboxPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
	if !rit.ValidForPrefix(outboxPrefix) {
		return first, first, true
	}
	return first, entrySeq(rit.Item().Key()), true
}
