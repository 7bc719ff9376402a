// Package report collects the per-dataset merging statistics published at
// the end of a run and renders them for export or display.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

// Vocabulary is the fixed, ordered set of metrics a report carries. Values
// are copied verbatim from the scale and truncate engines.
var Vocabulary = []string{
	engine.StatHighResolution,
	engine.StatLowResolution,
	engine.StatCompleteness,
	engine.StatMultiplicity,
	engine.StatIsigma,
	engine.StatRmerge,
	engine.StatRmeas,
	engine.StatRpim,
	engine.StatCCHalf,
	engine.StatTotalObservations,
	engine.StatTotalUnique,
	engine.StatAnomalousCompleteness,
	engine.StatAnomalousMultiplicity,
	engine.StatAnomalousCorrelation,
	engine.StatAnomalousSlope,
	engine.StatWilsonB,
}

// Metric is one named statistic: overall, low and high shell where the
// engine reports them.
type Metric struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
}

// Entry holds the statistics of one dataset.
type Entry struct {
	Project string   `yaml:"project"`
	Crystal string   `yaml:"crystal"`
	Dataset string   `yaml:"dataset"`
	Metrics []Metric `yaml:"metrics"`
}

// Key returns the entry's identity.
func (e *Entry) Key() sweep.Key {
	return sweep.Key{Project: e.Project, Crystal: e.Crystal, Dataset: e.Dataset}
}

// Metric returns the values of the named metric.
func (e *Entry) Metric(name string) ([]float64, bool) {
	for _, m := range e.Metrics {
		if m.Name == name {
			return m.Values, true
		}
	}
	return nil, false
}

// Statistics is the ordered set of per-dataset entries of a run.
type Statistics struct {
	Entries []*Entry `yaml:"datasets"`
}

// New returns empty statistics.
func New() *Statistics {
	return &Statistics{}
}

// Add records a dataset's engine statistics, keeping only metrics in the
// vocabulary and in vocabulary order. Adding a key twice replaces the
// earlier entry in place.
func (s *Statistics) Add(key sweep.Key, stats map[string][]float64) {
	entry := &Entry{Project: key.Project, Crystal: key.Crystal, Dataset: key.Dataset}
	for _, name := range Vocabulary {
		if v, ok := stats[name]; ok {
			entry.Metrics = append(entry.Metrics, Metric{Name: name, Values: append([]float64(nil), v...)})
		}
	}

	for i, e := range s.Entries {
		if e.Key() == key {
			s.Entries[i] = entry
			return
		}
	}
	s.Entries = append(s.Entries, entry)
}

// Get returns the entry for key.
func (s *Statistics) Get(key sweep.Key) (*Entry, bool) {
	for _, e := range s.Entries {
		if e.Key() == key {
			return e, true
		}
	}
	return nil, false
}

// SetWilsonB stores the Wilson B factor from truncation for key.
func (s *Statistics) SetWilsonB(key sweep.Key, b float64) error {
	e, ok := s.Get(key)
	if !ok {
		return fmt.Errorf("no statistics for %s", key)
	}
	for i, m := range e.Metrics {
		if m.Name == engine.StatWilsonB {
			e.Metrics[i].Values = []float64{b}
			return nil
		}
	}
	e.Metrics = append(e.Metrics, Metric{Name: engine.StatWilsonB, Values: []float64{b}})
	return nil
}

// WriteYAML exports the statistics.
func (s *Statistics) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	return enc.Close()
}

// ReadYAML loads statistics written by WriteYAML.
func ReadYAML(r io.Reader) (*Statistics, error) {
	var s Statistics
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}
	return &s, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	nameStyle   = cellStyle.Foreground(lipgloss.Color("#9CA3AF"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// Table returns a metric-by-dataset summary. Each cell shows the overall
// value with the low and high shell in parentheses when present.
func (s *Statistics) Table(styled bool) string {
	headers := []string{""}
	for _, e := range s.Entries {
		headers = append(headers, e.Dataset)
	}

	var rows [][]string
	for _, name := range Vocabulary {
		row := []string{name}
		present := false
		for _, e := range s.Entries {
			v, ok := e.Metric(name)
			if ok {
				present = true
			}
			row = append(row, formatValues(v))
		}
		if present {
			rows = append(rows, row)
		}
	}

	if !styled {
		return plain(headers, rows)
	}
	return table.New().
		Headers(headers...).
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return nameStyle
			}
			return cellStyle
		}).
		String()
}

// Print writes the summary table to w, styled when w is a terminal.
func (s *Statistics) Print(w io.Writer) error {
	_, err := fmt.Fprintln(w, s.Table(IsTerminal(w)))
	return err
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func formatValues(v []float64) string {
	switch len(v) {
	case 0:
		return "-"
	case 1:
		return formatFloat(v[0])
	case 2:
		return fmt.Sprintf("%s (%s)", formatFloat(v[0]), formatFloat(v[1]))
	}
	return fmt.Sprintf("%s (%s, %s)", formatFloat(v[0]), formatFloat(v[1]), formatFloat(v[2]))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// plain renders rows as tab-separated text for pipes and log files.
func plain(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(headers, "\t"))
	for _, row := range rows {
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, "\t"))
	}
	return b.String()
}
