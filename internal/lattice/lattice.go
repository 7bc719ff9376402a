package lattice

import (
	"context"
	"fmt"
	"slices"
)

// order lists lattice classes from lowest to highest symmetry.
var order = []string{"aP", "mP", "mC", "oP", "oC", "oI", "oF", "tP", "tI", "hR", "hP", "cP", "cI", "cF"}

// Triclinic is the lattice of last resort: every sweep is compatible with it.
const Triclinic = "aP"

// subLattices lists, for each lattice, the lower-symmetry lattices it can be
// reduced to without reindexing beyond a change of basis.
var subLattices = map[string][]string{
	"aP": {},
	"mP": {"aP"},
	"mC": {"aP"},
	"oP": {"mP", "aP"},
	"oC": {"mC", "mP", "aP"},
	"oF": {"mC", "aP"},
	"oI": {"mC", "aP"},
	"tP": {"oP", "oC", "mP", "mC", "aP"},
	"tI": {"oI", "oF", "mC", "aP"},
	"hP": {"oC", "mC", "mP", "aP"},
	"hR": {"mC", "aP"},
	"cP": {"tP", "hR", "oP", "oC", "mP", "mC", "aP"},
	"cF": {"tI", "hR", "oF", "oI", "mC", "aP"},
	"cI": {"tI", "hR", "oI", "oF", "mC", "aP"},
}

// Rank returns the position of a lattice in the symmetry ordering, or -1 for
// an unknown lattice.
func Rank(lattice string) int {
	return slices.Index(order, lattice)
}

// Valid reports whether the lattice name is a known Bravais lattice class.
func Valid(lattice string) bool {
	return Rank(lattice) >= 0
}

// Sort returns the lattices ordered from highest to lowest symmetry.
// Unknown names sort last, in their original relative order.
func Sort(lattices []string) []string {
	sorted := slices.Clone(lattices)
	slices.SortStableFunc(sorted, func(a, b string) int {
		return Rank(b) - Rank(a)
	})
	return sorted
}

// HighestCommon returns the highest-symmetry lattice present in every
// candidate set. Triclinic is assumed to be a member of every set.
// It fails only when a set contains nothing but unknown lattices.
func HighestCommon(sets [][]string) (string, error) {
	if len(sets) == 0 {
		return "", fmt.Errorf("no candidate sets")
	}

	for i := len(order) - 1; i >= 0; i-- {
		candidate := order[i]
		common := true
		for _, set := range sets {
			if candidate != Triclinic && !slices.Contains(set, candidate) {
				common = false
				break
			}
		}
		if !common {
			continue
		}
		if candidate == Triclinic {
			for _, set := range sets {
				if !slices.ContainsFunc(set, Valid) {
					return "", fmt.Errorf("candidate set %v contains no known lattice", set)
				}
			}
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no common lattice")
}

// Contains reports whether lattice lower can be reached from higher by
// symmetry reduction. A lattice contains itself.
func Contains(higher, lower string) bool {
	if higher == lower {
		return Valid(higher)
	}
	return slices.Contains(subLattices[higher], lower)
}

// Expand returns the lattice followed by every lattice it contains, highest
// symmetry first.
func Expand(lattice string) []string {
	if !Valid(lattice) {
		return nil
	}
	return Sort(append([]string{lattice}, subLattices[lattice]...))
}

// Verdict is an indexer's answer to an asserted lattice.
type Verdict int

const (
	// Correct means the indexer already uses the asserted lattice.
	Correct Verdict = iota
	// Possible means the lattice is acceptable but upstream must reprocess.
	Possible
	// Impossible means the lattice is incompatible with the sweep.
	Impossible
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case Possible:
		return "possible"
	case Impossible:
		return "impossible"
	default:
		return "unknown"
	}
}

// Indexer is the upstream collaborator that indexed a sweep. The scaler
// asserts lattices on it and pushes reindexing operators back to it.
type Indexer interface {
	// AssertLattice asks the indexer to adopt lattice.
	AssertLattice(ctx context.Context, lattice string) (Verdict, error)

	// SetReindexOperator records the operator applied to the sweep's data.
	SetReindexOperator(ctx context.Context, op string) error
}
