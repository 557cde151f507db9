package applier

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNothingToRevert is returned when the journal holds no batches.
var ErrNothingToRevert = errors.New("no applied batch to revert")

type batch struct {
	id     string
	states []fileState
}

// journal remembers the prior state of every file each batch touched so a
// batch can be undone without version control.
type journal struct {
	mu      sync.Mutex
	batches []batch
	max     int
}

func newJournal(maxBatches int) *journal {
	if maxBatches <= 0 {
		maxBatches = 20
	}
	return &journal{max: maxBatches}
}

func (j *journal) record(id string, states []fileState) {
	if len(states) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.batches = append(j.batches, batch{id: id, states: states})
	if len(j.batches) > j.max {
		j.batches = j.batches[len(j.batches)-j.max:]
	}
}

func (j *journal) pop() (batch, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.batches) == 0 {
		return batch{}, false
	}
	b := j.batches[len(j.batches)-1]
	j.batches = j.batches[:len(j.batches)-1]
	return b, true
}

func (j *journal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.batches)
}

// revert restores states in reverse order and returns the restored paths.
func (b batch) revert() ([]string, error) {
	var errs []error
	paths := make([]string, 0, len(b.states))
	for i := len(b.states) - 1; i >= 0; i-- {
		st := b.states[i]
		if err := st.restore(); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", st.rel, err))
			continue
		}
		paths = append(paths, st.rel)
	}
	return paths, errors.Join(errs...)
}
