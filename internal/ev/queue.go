// Package ev serializes work onto the loop thread. Reader goroutines
// push closures into a Queue; the loop collects a Batch per flush and
// runs it in order.
package ev

import (
	"errors"

	"deedles.dev/xsync/cq"
)

// Queue is an unbounded queue of loop-thread work. Closures added
// while a batch is running land in the next batch.
type Queue = cq.BulkQueue[func() error, *Batch]

func NewQueue() *Queue {
	return cq.New(func(fns []func() error) *Batch {
		return &Batch{fns: fns}
	})
}

// Batch holds the work collected since the previous flush.
type Batch struct {
	fns []func() error
}

// Flush runs the batch in arrival order. Every closure runs even when
// earlier ones fail; the errors come back joined.
func (b *Batch) Flush() error {
	var errs []error
	for _, fn := range b.fns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	b.fns = nil
	return errors.Join(errs...)
}
