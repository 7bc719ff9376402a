package lattice

import (
	"fmt"
	"math"
	"strings"
)

// Spacegroup describes one of the 65 chiral spacegroups macromolecular
// crystals can adopt.
type Spacegroup struct {
	Name       string // compact Hermann-Mauguin symbol, e.g. "P43212"
	Number     int
	PointGroup string // compact symbol of the symmorphic parent, e.g. "P422"
	Lattice    string
}

var spacegroups = []Spacegroup{
	{"P1", 1, "P1", "aP"},

	{"P2", 3, "P2", "mP"},
	{"P21", 4, "P2", "mP"},
	{"C2", 5, "C2", "mC"},

	{"P222", 16, "P222", "oP"},
	{"P2221", 17, "P222", "oP"},
	{"P21212", 18, "P222", "oP"},
	{"P212121", 19, "P222", "oP"},
	{"C2221", 20, "C222", "oC"},
	{"C222", 21, "C222", "oC"},
	{"F222", 22, "F222", "oF"},
	{"I222", 23, "I222", "oI"},
	{"I212121", 24, "I222", "oI"},

	{"P4", 75, "P4", "tP"},
	{"P41", 76, "P4", "tP"},
	{"P42", 77, "P4", "tP"},
	{"P43", 78, "P4", "tP"},
	{"I4", 79, "I4", "tI"},
	{"I41", 80, "I4", "tI"},
	{"P422", 89, "P422", "tP"},
	{"P4212", 90, "P422", "tP"},
	{"P4122", 91, "P422", "tP"},
	{"P41212", 92, "P422", "tP"},
	{"P4222", 93, "P422", "tP"},
	{"P42212", 94, "P422", "tP"},
	{"P4322", 95, "P422", "tP"},
	{"P43212", 96, "P422", "tP"},
	{"I422", 97, "I422", "tI"},
	{"I4122", 98, "I422", "tI"},

	{"P3", 143, "P3", "hP"},
	{"P31", 144, "P3", "hP"},
	{"P32", 145, "P3", "hP"},
	{"R3", 146, "R3", "hR"},
	{"P312", 149, "P312", "hP"},
	{"P321", 150, "P321", "hP"},
	{"P3112", 151, "P312", "hP"},
	{"P3121", 152, "P321", "hP"},
	{"P3212", 153, "P312", "hP"},
	{"P3221", 154, "P321", "hP"},
	{"R32", 155, "R32", "hR"},

	{"P6", 168, "P6", "hP"},
	{"P61", 169, "P6", "hP"},
	{"P65", 170, "P6", "hP"},
	{"P62", 171, "P6", "hP"},
	{"P64", 172, "P6", "hP"},
	{"P63", 173, "P6", "hP"},
	{"P622", 177, "P622", "hP"},
	{"P6122", 178, "P622", "hP"},
	{"P6522", 179, "P622", "hP"},
	{"P6222", 180, "P622", "hP"},
	{"P6422", 181, "P622", "hP"},
	{"P6322", 182, "P622", "hP"},

	{"P23", 195, "P23", "cP"},
	{"F23", 196, "F23", "cF"},
	{"I23", 197, "I23", "cI"},
	{"P213", 198, "P23", "cP"},
	{"I213", 199, "I23", "cI"},
	{"P432", 207, "P432", "cP"},
	{"P4232", 208, "P432", "cP"},
	{"F432", 209, "F432", "cF"},
	{"F4132", 210, "F432", "cF"},
	{"I432", 211, "I432", "cI"},
	{"P4332", 212, "P432", "cP"},
	{"P4132", 213, "P432", "cP"},
	{"I4132", 214, "I432", "cI"},
}

var byName = func() map[string]Spacegroup {
	m := make(map[string]Spacegroup, len(spacegroups)+2)
	for _, sg := range spacegroups {
		m[sg.Name] = sg
	}
	// Hexagonal setting of the rhombohedral groups.
	m["H3"] = Spacegroup{"H3", 146, "R3", "hR"}
	m["H32"] = Spacegroup{"H32", 155, "R32", "hR"}
	return m
}()

// Normalize strips whitespace from a Hermann-Mauguin symbol and upper-cases
// the centering letter, so "p 41 21 2" and "P41212" compare equal.
func Normalize(symbol string) string {
	compact := strings.Join(strings.Fields(symbol), "")
	if compact == "" {
		return ""
	}
	return strings.ToUpper(compact[:1]) + compact[1:]
}

// LookupSpacegroup finds a chiral spacegroup or point group by symbol.
func LookupSpacegroup(symbol string) (Spacegroup, bool) {
	sg, ok := byName[Normalize(symbol)]
	return sg, ok
}

// Of returns the lattice class of a spacegroup or point group symbol.
func Of(symbol string) (string, error) {
	sg, ok := LookupSpacegroup(symbol)
	if !ok {
		return "", fmt.Errorf("unknown spacegroup or point group %q", symbol)
	}
	return sg.Lattice, nil
}

// PointGroupOf returns the point group of a spacegroup symbol.
func PointGroupOf(symbol string) (string, error) {
	sg, ok := LookupSpacegroup(symbol)
	if !ok {
		return "", fmt.Errorf("unknown spacegroup or point group %q", symbol)
	}
	return sg.PointGroup, nil
}

// Cell holds unit cell parameters a, b, c (Å) and alpha, beta, gamma (°).
type Cell [6]float64

var cellParameterNames = [6]string{"a", "b", "c", "alpha", "beta", "gamma"}

// String formats the cell to two decimals.
func (c Cell) String() string {
	return fmt.Sprintf("%.2f %.2f %.2f %.2f %.2f %.2f", c[0], c[1], c[2], c[3], c[4], c[5])
}

// Compare checks every parameter of c against ref with a fractional
// tolerance. It returns a description of the first offending parameter.
func (c Cell) Compare(ref Cell, tolerance float64) (string, bool) {
	for i := range c {
		if ref[i] == 0 {
			if c[i] != 0 {
				return fmt.Sprintf("%s %.2f vs reference 0", cellParameterNames[i], c[i]), false
			}
			continue
		}
		if math.Abs(c[i]-ref[i])/math.Abs(ref[i]) > tolerance {
			return fmt.Sprintf("%s %.2f vs reference %.2f", cellParameterNames[i], c[i], ref[i]), false
		}
	}
	return "", true
}
