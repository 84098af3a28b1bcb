package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID        string
	SourceType   string
	ObjectKey    string
	SourceURL    string
	DeclaredType string
	Settings     domain.NormalizeSettings
	Outputs      []domain.OutputSpec
}

type Output struct {
	OutputID    string `json:"output_id"`
	Format      string `json:"format"`
	Path        string `json:"path"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Passthrough bool   `json:"passthrough,omitempty"`
	Success     bool   `json:"success"`
}

type JobResult struct {
	SourceBytes int
	Exempt      bool
	Resized     bool
	Outputs     []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (File, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, spec domain.OutputSpec, data []byte, mimeType string, width, height int) (Output, error)
}

// Processor runs one job: fetch the source, normalize it once, then encode and emit
// every requested output.
type Processor struct {
	fetcher Fetcher
	stages  *Stages
	emitter Emitter
}

func NewProcessor(fetcher Fetcher, emitter Emitter, stages *Stages) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	if stages == nil {
		return nil, errors.New("pipeline stages are required")
	}
	return &Processor{fetcher: fetcher, stages: stages, emitter: emitter}, nil
}

func NewLocalProcessor(outputDir string, stages *Stages) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, stages)
}

func (p *Processor) Process(ctx context.Context, req Request) (JobResult, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return JobResult{}, errors.New("job_id is required")
	}
	if req.Settings.MaxDimension <= 0 {
		return JobResult{}, errors.New("max_dimension must be positive")
	}
	cs, err := ParseColorSpace(req.Settings.ColorSpace)
	if err != nil {
		return JobResult{}, err
	}
	outputs := domain.OutputsOrDefault(req.Outputs)

	file, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return JobResult{}, fmt.Errorf("fetch stage: %w", err)
	}

	normalized, err := p.stages.Normalizer.Normalize(ctx, file, req.Settings.MaxDimension, req.Settings.SizeThreshold)
	if err != nil {
		return JobResult{}, fmt.Errorf("normalize stage: %w", err)
	}
	out := JobResult{
		SourceBytes: len(file.Data),
		Exempt:      normalized.Exempt,
		Resized:     normalized.Resized,
		Outputs:     make([]Output, 0, len(outputs)),
	}
	width, height := normalized.Bitmap.LogicalSize()

	for _, spec := range outputs {
		select {
		case <-ctx.Done():
			return JobResult{}, ctx.Err()
		default:
		}

		rendered, err := p.stages.Render(ctx, file, normalized, EncodeSpec{
			MIMEType:   spec.Format,
			Quality:    spec.Quality,
			ColorSpace: cs,
		})
		if err != nil {
			return JobResult{}, fmt.Errorf("encode stage output=%s: %w", spec.ID, err)
		}

		written, err := p.emitter.Emit(ctx, req, spec, rendered.Data, rendered.MIMEType, width, height)
		if err != nil {
			return JobResult{}, fmt.Errorf("emit stage output=%s: %w", spec.ID, err)
		}
		written.Passthrough = rendered.Passthrough
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

// Rendered is one encoded output.
type Rendered struct {
	Data        []byte
	MIMEType    string
	Passthrough bool
}

// Render encodes a normalized file. An empty spec.MIMEType re-encodes in the file's
// declared type. Exempt vector input requested as SVG is passed through byte-for-byte.
func (s *Stages) Render(ctx context.Context, f File, res Result, spec EncodeSpec) (Rendered, error) {
	if strings.TrimSpace(spec.MIMEType) == "" {
		spec.MIMEType = f.Type
	}
	if res.Exempt && isVectorType(spec.MIMEType) {
		return Rendered{Data: f.Data, MIMEType: "image/svg+xml", Passthrough: true}, nil
	}

	data, err := s.Encoder.Encode(ctx, res.Bitmap, spec)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Data: data, MIMEType: s.Encoder.OutputType(spec.MIMEType)}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) (File, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return File{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return FileSource{Path: req.ObjectKey, Type: req.DeclaredType}.Read(ctx)
}

type URLFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func (f URLFetcher) Fetch(ctx context.Context, req Request) (File, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeHTTPURL) {
		return File{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	file, err := URLSource{URL: req.SourceURL, Client: f.Client, MaxBytes: f.MaxBytes}.Read(ctx)
	if err != nil {
		return File{}, &DecodeError{Source: req.SourceURL, Err: err}
	}
	if req.DeclaredType != "" {
		file.Type = req.DeclaredType
	}
	return file, nil
}

// RoutingFetcher dispatches on the request's source type.
type RoutingFetcher map[string]Fetcher

func (r RoutingFetcher) Fetch(ctx context.Context, req Request) (File, error) {
	f, ok := r[strings.ToLower(strings.TrimSpace(req.SourceType))]
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Fetch(ctx, req)
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, spec domain.OutputSpec, data []byte, mimeType string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(spec.ID) == "" {
		return Output{}, errors.New("output id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", sanitizePathToken(spec.ID), extensionForType(mimeType))
	fullPath := filepath.Join(jobDir, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		OutputID: spec.ID,
		Format:   mimeType,
		Path:     fullPath,
		Bytes:    len(data),
		Width:    width,
		Height:   height,
		Success:  true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
