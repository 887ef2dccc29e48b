// Package persist implements durable storage of the trust graph, with
// atomic single-slot writes and corruption-tolerant reload, backed by a
// single embedded go.etcd.io/bbolt file — a fit for a constrained device
// with a flash filesystem rather than many small files.
package persist

import "github.com/juergengeck/esp32/pkg/helper/errors"

// Substrate is a namespaced key-value surface with atomic single-slot
// writes. No multi-slot transaction is assumed by callers.
type Substrate interface {
	// Open returns a handle scoped to namespace, creating it if absent.
	Open(namespace string) (Handle, error)

	// Read returns the bytes stored at slot, or ErrNotFound.
	Read(handle Handle, slot string) ([]byte, error)

	// Write stores data at slot atomically: callers observe either the
	// previous or the new value, never a partial write.
	Write(handle Handle, slot string, data []byte) error

	// Enumerate lists every slot name in namespace with the given prefix.
	Enumerate(handle Handle, prefix string) ([]string, error)

	// Remove deletes slot. Removing an absent slot is a no-op.
	Remove(handle Handle, slot string) error

	// Close releases the substrate's resources.
	Close() error
}

// Handle is an opaque reference to an opened namespace.
type Handle interface{}

// ErrNotFound is returned by Read for an absent slot.
var ErrNotFound = errors.NotFoundf("persistence slot not found")
