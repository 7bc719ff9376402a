// Package lattice holds the crystallographic vocabulary the scaling pipeline
// reasons about without doing any crystallographic mathematics: Bravais
// lattice classes and their symmetry ordering, the table of chiral
// spacegroups with their point groups, unit cell comparison, and the
// three-valued protocol used to negotiate a lattice with an upstream
// indexer.
//
// # Symmetry Ordering
//
// Lattices are ranked from lowest to highest symmetry:
//
//	aP mP mC oP oC oI oF tP tI hR hP cP cI cF
//
// [Highest] picks the highest-ranked lattice; [HighestCommon] picks the
// highest lattice present in every candidate set, falling back to aP.
//
// # Indexer Protocol
//
// An [Indexer] answers [AssertLattice] with one of:
//
//   - [Correct]: the indexer already uses that lattice
//   - [Possible]: the lattice is compatible but the sweep must be reprocessed
//   - [Impossible]: the lattice cannot describe the sweep
package lattice
