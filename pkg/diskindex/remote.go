package diskindex

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

// Remote is a read-only mirror consulted on a local miss. Grounded on
// original_source/connectome/storage/local.py:BackupStorage._download and
// interface.py:RemoteStorage.fetch, collapsed to the single-key case the VM
// actually needs (batched prefetch is not part of this spec).
type Remote interface {
	// Fetch returns the raw bytes stored under key, or ok=false on miss.
	Fetch(key string) (value []byte, ok bool, err error)
}

// BadgerRemote mirrors a remote connectome index backed by a Badger key/value
// store, exercising the retrieval pack's github.com/dgraph-io/badger/v4
// dependency as a pluggable Remote (e.g. a shared read-only replica synced
// out of band). Index.Read decodes the bytes fetched for a key with
// encoding/gob as a single interface value; bytes it cannot decode count as
// a miss.
type BadgerRemote struct {
	DB *badger.DB
}

func (r BadgerRemote) Fetch(key string) ([]byte, bool, error) {
	var out []byte
	err := r.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}
