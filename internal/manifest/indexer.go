package manifest

import (
	"context"
	"sync"

	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
)

// Indexer is the indexing solution recorded in a manifest. It cannot
// re-integrate: moving to a lower-symmetry lattice is accepted and the data
// integrated in that lattice is served if the manifest lists it, otherwise
// the original file is reused.
type Indexer struct {
	mu sync.Mutex

	sweep    string
	lattice  string
	file     string
	files    map[string]string
	operator string
}

// NewIndexer creates an indexer for sweep whose solution is in lat.
func NewIndexer(sweep, lat, file string, latticeFiles map[string]string) *Indexer {
	return &Indexer{sweep: sweep, lattice: lat, file: file, files: latticeFiles}
}

// AssertLattice accepts the current lattice, adopts any lattice the current
// one contains, and rejects everything else.
func (i *Indexer) AssertLattice(_ context.Context, l string) (lattice.Verdict, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case l == i.lattice:
		return lattice.Correct, nil
	case lattice.Contains(i.lattice, l):
		i.lattice = l
		return lattice.Possible, nil
	default:
		return lattice.Impossible, nil
	}
}

// SetReindexOperator records op. The manifest is not rewritten.
func (i *Indexer) SetReindexOperator(_ context.Context, op string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.operator = op
	return nil
}

// ReflectionFile returns the data integrated in the current lattice.
func (i *Indexer) ReflectionFile(_ context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if f, ok := i.files[i.lattice]; ok {
		return f, nil
	}
	if i.file == "" {
		return "", errors.NewInputMissingError("reflection file for sweep " + i.sweep)
	}
	return i.file, nil
}

// Lattice returns the lattice currently in use.
func (i *Indexer) Lattice() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lattice
}

// Operator returns the last reindexing operator pushed to the indexer.
func (i *Indexer) Operator() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.operator
}
