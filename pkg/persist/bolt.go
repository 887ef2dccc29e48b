package persist

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juergengeck/esp32/pkg/helper/errors"

	bolt "go.etcd.io/bbolt"
)

// BoltSubstrate is the Substrate implementation backed by a single embedded
// go.etcd.io/bbolt file: one bucket per namespace, one key per slot. Bolt's
// own single-writer transactional model gives the "atomic single-slot
// write" guarantee without any extra bookkeeping.
type BoltSubstrate struct {
	db *bolt.DB
}

// boltHandle carries the bucket name a Handle refers to.
type boltHandle struct {
	bucket []byte
}

// OpenBoltSubstrate opens (creating if absent) the bbolt file at path.
func OpenBoltSubstrate(path string) (*BoltSubstrate, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.IOErrorf("creating directory for %s: %v", path, err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.IOErrorf("opening persistence file %s: %v", path, err)
	}
	return &BoltSubstrate{db: db}, nil
}

func (s *BoltSubstrate) Open(namespace string) (Handle, error) {
	bucket := []byte(namespace)
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, errors.IOErrorf("opening namespace %s: %v", namespace, err)
	}
	return &boltHandle{bucket: bucket}, nil
}

func (s *BoltSubstrate) Read(handle Handle, slot string) ([]byte, error) {
	h, ok := handle.(*boltHandle)
	if !ok {
		return nil, errors.InvalidInputf("invalid persistence handle")
	}

	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(h.bucket)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(slot))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltSubstrate) Write(handle Handle, slot string, data []byte) error {
	h, ok := handle.(*boltHandle)
	if !ok {
		return errors.InvalidInputf("invalid persistence handle")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(h.bucket)
		if b == nil {
			return errors.NotFoundf("namespace bucket missing")
		}
		return b.Put([]byte(slot), data)
	})
	if err != nil {
		return errors.IOErrorf("writing slot %s: %v", slot, err)
	}
	return nil
}

func (s *BoltSubstrate) Enumerate(handle Handle, prefix string) ([]string, error) {
	h, ok := handle.(*boltHandle)
	if !ok {
		return nil, errors.InvalidInputf("invalid persistence handle")
	}

	var slots []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(h.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			name := string(k)
			if prefix == "" || strings.HasPrefix(name, prefix) {
				slots = append(slots, name)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.IOErrorf("enumerating namespace: %v", err)
	}
	return slots, nil
}

func (s *BoltSubstrate) Remove(handle Handle, slot string) error {
	h, ok := handle.(*boltHandle)
	if !ok {
		return errors.InvalidInputf("invalid persistence handle")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(h.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(slot))
	})
	if err != nil {
		return errors.IOErrorf("removing slot %s: %v", slot, err)
	}
	return nil
}

func (s *BoltSubstrate) Close() error {
	return s.db.Close()
}
