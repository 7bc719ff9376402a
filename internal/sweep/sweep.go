// Package sweep models the per-sweep records the scaling pipeline operates on
// and the ordered collections that hold them.
package sweep

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/lattice"
)

// symmetryRotation is the largest rotation range used to decide symmetry.
const symmetryRotation = 180.0

// Key identifies the dataset a sweep belongs to.
type Key struct {
	Project string `yaml:"project"`
	Crystal string `yaml:"crystal"`
	Dataset string `yaml:"dataset"`
}

// String returns "project/crystal/dataset".
func (k Key) String() string {
	return k.Project + "/" + k.Crystal + "/" + k.Dataset
}

// BatchRange is an inclusive range of batch numbers.
type BatchRange struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

// Span returns the number of batches in the range.
func (r BatchRange) Span() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// Overlaps reports whether the two ranges share any batch. An empty range
// overlaps nothing.
func (r BatchRange) Overlaps(o BatchRange) bool {
	return r.Span() > 0 && o.Span() > 0 && r.First <= o.Last && o.First <= r.Last
}

// String formats the range as "first-last".
func (r BatchRange) String() string {
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// Dose describes the accumulated X-ray dose of a sweep.
type Dose struct {
	Start    float64 `yaml:"start"`
	PerImage float64 `yaml:"per_image"`
}

// Known reports whether dose information was supplied.
func (d Dose) Known() bool {
	return d.PerImage > 0
}

// At returns the dose accumulated by the end of the given image, counting
// from image 1.
func (d Dose) At(image int) float64 {
	return d.Start + float64(image)*d.PerImage
}

// Source is the upstream collaborator that produced a sweep: it supplies the
// integrated reflection file and owns the indexing solution the symmetry
// decision is asserted against.
type Source interface {
	lattice.Indexer

	// ReflectionFile returns the path of the integrated, unmerged
	// reflection file, reprocessing first if a previous assertion made
	// that necessary.
	ReflectionFile(ctx context.Context) (string, error)
}

// Spec is the immutable description of a sweep from which a Record is
// (re)built at the start of every prepare pass.
type Spec struct {
	Key         Key
	Name        string
	Epoch       int
	Wavelength  float64
	PhiPerImage float64
	Dose        Dose
	Source      Source
}

// Record is the mutable working state of one sweep during a run. It is
// created at prepare, mutated in place as reindexing and rebatching proceed,
// and discarded when upstream reprocessing is required.
type Record struct {
	Key         Key
	Name        string
	Epoch       int
	Wavelength  float64
	PhiPerImage float64
	Dose        Dose
	Source      Source

	// File is the current reflection file; each step replaces it with the
	// file it produced.
	File   string
	Header engine.Header

	// Batches is the current batch range. Images holds the original,
	// image-numbered range so that batch - BatchOffset is an image number.
	Batches     BatchRange
	Images      BatchRange
	BatchOffset int

	PointGroup   string
	Spacegroup   string
	ReindexOp    string
	Lattice      string
	NeedToReturn bool
}

// NewRecord creates a fresh record from spec. The reflection file and header
// are filled in by the probe step.
func NewRecord(spec Spec) *Record {
	return &Record{
		Key:         spec.Key,
		Name:        spec.Name,
		Epoch:       spec.Epoch,
		Wavelength:  spec.Wavelength,
		PhiPerImage: spec.PhiPerImage,
		Dose:        spec.Dose,
		Source:      spec.Source,
	}
}

// SetHeader records probe output and resets the batch bookkeeping to the
// file's native numbering.
func (r *Record) SetHeader(file string, h engine.Header) {
	r.File = file
	r.Header = h
	r.Batches = BatchRange{First: h.FirstBatch, Last: h.LastBatch}
	r.Images = r.Batches
	r.BatchOffset = 0
	r.Spacegroup = h.Spacegroup
}

// SymmetryBatches returns the leading part of the batch range covering at
// most 180 degrees of rotation. Without a known oscillation width the whole
// range is used.
func (r *Record) SymmetryBatches() BatchRange {
	if r.PhiPerImage <= 0 {
		return r.Batches
	}
	n := int(math.Floor(symmetryRotation/r.PhiPerImage + 1e-9))
	if n < 1 {
		n = 1
	}
	out := r.Batches
	if out.Span() > n {
		out.Last = out.First + n - 1
	}
	return out
}

// ImageOf maps a (renumbered) batch back to the original image number.
func (r *Record) ImageOf(batch int) int {
	return batch - r.BatchOffset
}

// Collection is an insertion-ordered set of records keyed by sweep name.
// Iteration order determines batch assignment and must be stable.
type Collection struct {
	records []*Record
	index   map[string]int
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{index: make(map[string]int)}
}

// Add appends a record. Sweep names must be unique within a run.
func (c *Collection) Add(r *Record) error {
	if _, exists := c.index[r.Name]; exists {
		return fmt.Errorf("duplicate sweep %q", r.Name)
	}
	c.index[r.Name] = len(c.records)
	c.records = append(c.records, r)
	return nil
}

// Get returns the named record.
func (c *Collection) Get(name string) (*Record, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.records[i], true
}

// Records returns the records in insertion order.
func (c *Collection) Records() []*Record {
	return slices.Clone(c.records)
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.records)
}

// ByEpoch returns the records ordered by collection epoch. Records with
// equal epochs keep their insertion order.
func (c *Collection) ByEpoch() []*Record {
	out := slices.Clone(c.records)
	slices.SortStableFunc(out, func(a, b *Record) int {
		return a.Epoch - b.Epoch
	})
	return out
}

// Datasets returns each distinct dataset name in order of first appearance.
func (c *Collection) Datasets() []string {
	var names []string
	seen := make(map[string]bool)
	for _, r := range c.records {
		if !seen[r.Key.Dataset] {
			seen[r.Key.Dataset] = true
			names = append(names, r.Key.Dataset)
		}
	}
	return names
}

// ResolutionLimits maps dataset name to the accepted high-resolution cutoff,
// preserving the order in which datasets were first set.
type ResolutionLimits struct {
	order  []string
	limits map[string]float64
}

// NewResolutionLimits creates an empty set of limits.
func NewResolutionLimits() *ResolutionLimits {
	return &ResolutionLimits{limits: make(map[string]float64)}
}

// Set records a limit and reports whether this changed the accepted value.
// Setting a limit for a dataset that had none counts as a change.
func (l *ResolutionLimits) Set(dataset string, d float64) bool {
	old, ok := l.limits[dataset]
	if !ok {
		l.order = append(l.order, dataset)
	}
	l.limits[dataset] = d
	return !ok || old != d
}

// Get returns the limit for dataset.
func (l *ResolutionLimits) Get(dataset string) (float64, bool) {
	d, ok := l.limits[dataset]
	return d, ok
}

// Datasets returns the datasets with a limit in the order they were set.
func (l *ResolutionLimits) Datasets() []string {
	return slices.Clone(l.order)
}

// Len returns the number of datasets with a limit.
func (l *ResolutionLimits) Len() int {
	return len(l.order)
}
