package objstore

import (
	"iter"
	"sync/atomic"
)

// ObjectIter is a lazy, finite, single-use listing.
type ObjectIter struct {
	m        *Manager
	bucket   string
	seq      iter.Seq2[ObjectInfo, error]
	consumed atomic.Bool
}

// All yields each object in turn. Ranging a second time yields a single
// ErrIteratorConsumed error. A listing error ends the sequence.
func (it *ObjectIter) All() iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		if !it.consumed.CompareAndSwap(false, true) {
			yield(ObjectInfo{}, &OperationError{Op: OpListObjects, Bucket: it.bucket, Err: ErrIteratorConsumed})
			return
		}
		for obj, err := range it.seq {
			if err != nil {
				yield(ObjectInfo{}, it.m.fail(OpListObjects, it.bucket, "", err))
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
		it.m.observe(OpListObjects, nil)
	}
}

// Collect drains the iterator into a slice.
func (it *ObjectIter) Collect() ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj, err := range it.All() {
		if err != nil {
			return out, err
		}
		out = append(out, obj)
	}
	return out, nil
}
