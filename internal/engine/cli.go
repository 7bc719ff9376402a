package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"gopkg.in/yaml.v3"
)

// Command is an external program implementing one engine.
type Command struct {
	Name string
	Args []string
}

// failure is the error envelope an engine may print instead of a result.
type failure struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
}

type envelope struct {
	Error *failure `yaml:"error"`
}

// cliEngine speaks the YAML request/response protocol with one external
// program: the request is written to stdin and the response read from stdout.
type cliEngine struct {
	name     string
	cmd      Command
	dir      string
	executor CommandExecutor
}

// call runs the engine. On any failure the files matching outputs are
// removed before returning, so no step leaves partial output behind. A
// failure reported by the engine itself is returned for the caller to
// classify.
func (e *cliEngine) call(ctx context.Context, req, resp any, outputs ...string) (*failure, error) {
	in, err := yaml.Marshal(req)
	if err != nil {
		return nil, errors.NewEngineError(e.name, err).WithMessage("failed to encode request")
	}

	out, err := e.executor.Run(ctx, e.dir, in, e.cmd.Name, e.cmd.Args...)
	if err != nil {
		removeOutputs(outputs)
		return nil, errors.NewEngineError(e.name, fmt.Errorf("%w: %v", errors.ErrEngineExit, err)).
			WithOutput(string(out))
	}

	var env envelope
	if err := yaml.Unmarshal(out, &env); err != nil {
		removeOutputs(outputs)
		return nil, errors.NewEngineError(e.name, errors.ErrMissingToken).
			WithMessage("unparseable output").
			WithOutput(string(out))
	}
	if env.Error != nil {
		removeOutputs(outputs)
		return env.Error, nil
	}

	if err := yaml.Unmarshal(out, resp); err != nil {
		removeOutputs(outputs)
		return nil, errors.NewEngineError(e.name, errors.ErrMissingToken).
			WithMessage(fmt.Sprintf("unparseable output: %v", err)).
			WithOutput(string(out))
	}
	return nil, nil
}

func (e *cliEngine) reported(f *failure) error {
	return errors.NewEngineError(e.name, errors.ErrEngineExit).WithMessage(f.Message)
}

func (e *cliEngine) missing(field string, outputs ...string) error {
	removeOutputs(outputs)
	return errors.NewEngineError(e.name, errors.ErrMissingToken).
		WithMessage(fmt.Sprintf("response has no %s", field))
}

// removeOutputs deletes every file matching the given glob patterns.
func removeOutputs(patterns []string) {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
}

// -----------------------------------------------------------------------------
// Engines
// -----------------------------------------------------------------------------

type cliProbe struct{ cliEngine }

func (p *cliProbe) Probe(ctx context.Context, path string) (Header, error) {
	req := struct {
		File string `yaml:"file"`
	}{path}

	var h Header
	f, err := p.call(ctx, req, &h)
	if err != nil {
		return Header{}, err
	}
	if f != nil {
		if f.Kind == "format" {
			return Header{}, errors.NewFormatError(path, errors.ErrWrongFormat)
		}
		return Header{}, p.reported(f)
	}

	switch {
	case h.Format == "":
		return Header{}, p.missing("format")
	case h.Format != "mtz":
		return Header{}, errors.NewFormatError(path, errors.ErrWrongFormat)
	case h.Spacegroup == "":
		return Header{}, p.missing("spacegroup")
	case h.LastBatch < h.FirstBatch:
		return Header{}, p.missing("batch range")
	}
	return h, nil
}

type cliSymmetry struct{ cliEngine }

func (s *cliSymmetry) Decide(ctx context.Context, req SymmetryRequest) (SymmetryResult, error) {
	var res SymmetryResult
	f, err := s.call(ctx, req, &res)
	if err != nil {
		return SymmetryResult{}, err
	}
	if f != nil {
		return SymmetryResult{}, s.reported(f)
	}

	if res.PointGroup == "" {
		return SymmetryResult{}, s.missing("point_group")
	}
	if res.ReindexOp == "" {
		res.ReindexOp = "h,k,l"
	}
	if len(res.Lattices) == 0 {
		l, err := lattice.Of(res.PointGroup)
		if err != nil {
			return SymmetryResult{}, errors.NewEngineError(s.name, errors.ErrMissingToken).
				WithMessage(err.Error())
		}
		res.Lattices = lattice.Expand(l)
	}
	return res, nil
}

type cliReindex struct{ cliEngine }

func (r *cliReindex) Reindex(ctx context.Context, req ReindexRequest) (string, error) {
	var res struct {
		Output string `yaml:"output"`
	}
	f, err := r.call(ctx, req, &res, req.Output)
	if err != nil {
		return "", err
	}
	if f != nil {
		if f.Kind == "reindex" {
			return "", errors.NewEngineError(r.name, errors.ErrReindex).WithMessage(f.Message)
		}
		return "", r.reported(f)
	}
	if res.Output == "" {
		return "", r.missing("output", req.Output)
	}
	return res.Output, nil
}

type cliRebatch struct{ cliEngine }

func (r *cliRebatch) Renumber(ctx context.Context, input, output string, firstBatch int) (int, int, error) {
	req := struct {
		Input      string `yaml:"input"`
		Output     string `yaml:"output"`
		FirstBatch int    `yaml:"first_batch"`
	}{input, output, firstBatch}

	var res struct {
		Output     string `yaml:"output"`
		FirstBatch int    `yaml:"first_batch"`
		LastBatch  int    `yaml:"last_batch"`
	}
	f, err := r.call(ctx, req, &res, output)
	if err != nil {
		return 0, 0, err
	}
	if f != nil {
		return 0, 0, r.reported(f)
	}
	if res.Output == "" || res.LastBatch < res.FirstBatch || res.FirstBatch == 0 {
		return 0, 0, r.missing("batch range", output)
	}
	return res.FirstBatch, res.LastBatch, nil
}

type cliSort struct{ cliEngine }

func (s *cliSort) Sort(ctx context.Context, inputs []string, output string) (string, error) {
	req := struct {
		Inputs []string `yaml:"inputs"`
		Output string   `yaml:"output"`
	}{inputs, output}

	var res struct {
		Output string `yaml:"output"`
	}
	f, err := s.call(ctx, req, &res, output)
	if err != nil {
		return "", err
	}
	if f != nil {
		return "", s.reported(f)
	}
	if res.Output == "" {
		return "", s.missing("output", output)
	}
	return res.Output, nil
}

type cliScale struct{ cliEngine }

func (s *cliScale) Scale(ctx context.Context, req ScaleRequest) (ScaleResult, error) {
	partial := req.Prefix + "_*"

	var res ScaleResult
	f, err := s.call(ctx, req, &res, partial)
	if err != nil {
		return ScaleResult{}, err
	}
	if f != nil {
		return ScaleResult{}, s.reported(f)
	}
	if res.MergedFile == "" {
		return ScaleResult{}, s.missing("merged_file", partial)
	}
	if len(res.Datasets) == 0 {
		return ScaleResult{}, s.missing("datasets", partial)
	}
	return res, nil
}

type cliTruncate struct{ cliEngine }

func (t *cliTruncate) ToAmplitudes(ctx context.Context, input, output string, anomalous bool) (TruncateResult, error) {
	req := struct {
		Input     string `yaml:"input"`
		Output    string `yaml:"output"`
		Anomalous bool   `yaml:"anomalous"`
	}{input, output, anomalous}

	var res TruncateResult
	f, err := t.call(ctx, req, &res, output)
	if err != nil {
		return TruncateResult{}, err
	}
	if f != nil {
		return TruncateResult{}, t.reported(f)
	}
	if res.File == "" {
		return TruncateResult{}, t.missing("file", output)
	}
	return res, nil
}

type cliMerge struct{ cliEngine }

func (m *cliMerge) Cad(ctx context.Context, inputs []string, output string, cell *lattice.Cell) (string, error) {
	req := struct {
		Operation string        `yaml:"operation"`
		Inputs    []string      `yaml:"inputs"`
		Output    string        `yaml:"output"`
		Cell      *lattice.Cell `yaml:"cell,omitempty"`
	}{"cad", inputs, output, cell}
	return m.run(ctx, req, output)
}

func (m *cliMerge) AddFreeFlag(ctx context.Context, input, output string, fraction float64) (string, error) {
	req := struct {
		Operation string  `yaml:"operation"`
		Input     string  `yaml:"input"`
		Output    string  `yaml:"output"`
		Fraction  float64 `yaml:"fraction"`
	}{"freerflag", input, output, fraction}
	return m.run(ctx, req, output)
}

func (m *cliMerge) run(ctx context.Context, req any, output string) (string, error) {
	var res struct {
		Output string `yaml:"output"`
	}
	f, err := m.call(ctx, req, &res, output)
	if err != nil {
		return "", err
	}
	if f != nil {
		return "", m.reported(f)
	}
	if res.Output == "" {
		return "", m.missing("output", output)
	}
	return res.Output, nil
}
