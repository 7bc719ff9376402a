package testutil

import (
	"context"
	"sync"

	"github.com/xia2/xia2-sub002/internal/lattice"
)

// Indexer is a fake upstream indexer holding one lattice. Asserting a
// lattice it already uses is correct, asserting a sub-lattice of it is
// possible (and adopted), anything else is impossible. Verdicts overrides
// the answer for specific lattices.
type Indexer struct {
	mu sync.Mutex

	Lattice  string
	File     string
	Verdicts map[string]lattice.Verdict

	asserted  []string
	operators []string
	fetches   int
}

// NewIndexer creates a fake indexer for a sweep whose integrated data is file.
func NewIndexer(lat, file string) *Indexer {
	return &Indexer{Lattice: lat, File: file, Verdicts: make(map[string]lattice.Verdict)}
}

func (i *Indexer) AssertLattice(_ context.Context, l string) (lattice.Verdict, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.asserted = append(i.asserted, l)

	if v, ok := i.Verdicts[l]; ok {
		if v == lattice.Possible {
			i.Lattice = l
		}
		return v, nil
	}
	switch {
	case l == i.Lattice:
		return lattice.Correct, nil
	case lattice.Contains(i.Lattice, l):
		i.Lattice = l
		return lattice.Possible, nil
	default:
		return lattice.Impossible, nil
	}
}

func (i *Indexer) SetReindexOperator(_ context.Context, op string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.operators = append(i.operators, op)
	return nil
}

func (i *Indexer) ReflectionFile(_ context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fetches++
	return i.File, nil
}

// Asserted returns every lattice asserted so far, in order.
func (i *Indexer) Asserted() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.asserted...)
}

// Operators returns every reindex operator pushed so far, in order.
func (i *Indexer) Operators() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.operators...)
}

// Fetches returns how often the reflection file was requested.
func (i *Indexer) Fetches() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fetches
}

// CurrentLattice returns the lattice the indexer currently uses.
func (i *Indexer) CurrentLattice() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.Lattice
}
