package forensic

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// entryKeyPrefix namespaces forensic entries within a shared Badger
// instance, following the same "sess:"/"pipe:" prefixing discipline used
// elsewhere for Badger-backed stores in this codebase.
const entryKeyPrefix = "forensic:"

// BadgerStore durably persists the forensic chain. Keys are the prefix plus
// a zero-padded monotonic sequence number so iteration order matches
// append order regardless of EntryID formatting.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a Badger database at path dedicated to
// the forensic log.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("forensic: open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying Badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Append(entry Entry) error {
	var seq uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		n, err := s.nextSeqLocked(txn)
		if err != nil {
			return err
		}
		seq = n
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(seqKey(seq), buf)
	})
	return err
}

func (s *BadgerStore) nextSeqLocked(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(entryKeyPrefix + "seq"))
	var seq uint64
	if err == nil {
		if err := item.Value(func(val []byte) error {
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}
	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	if err := txn.Set([]byte(entryKeyPrefix+"seq"), buf); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *BadgerStore) All() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(entryKeyPrefix + "e:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%se:%020d", entryKeyPrefix, seq))
}

var _ Store = (*BadgerStore)(nil)
