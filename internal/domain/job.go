package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/pixelnorm/internal/sizespec"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
	SourceTypeHTTPURL     = "http_url"

	DefaultOutputID = "normalized"
)

// NormalizeSettings overrides the service defaults for one job. Zero values mean
// "use the configured default".
type NormalizeSettings struct {
	MaxDimension  int    `json:"max_dimension,omitempty"`
	SizeThreshold string `json:"size_threshold,omitempty"`
	ColorSpace    string `json:"color_space,omitempty"`
}

type CreateJobRequest struct {
	SourceType   string `json:"source_type"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	ObjectKey    string `json:"object_key,omitempty"`
	SourceURL    string `json:"source_url,omitempty"`
	DeclaredType string `json:"declared_type,omitempty"`
	NormalizeSettings
	Outputs []OutputSpec `json:"outputs,omitempty"`
}

// OutputSpec is one encoding of the normalized image. An empty Format re-encodes in
// the declared type of the input.
type OutputSpec struct {
	ID      string   `json:"id"`
	Format  string   `json:"format,omitempty"`
	Quality *float64 `json:"quality,omitempty"`
}

type Job struct {
	ID           string
	UserID       string
	Status       string
	SourceType   string
	WebhookURL   string
	ObjectKey    string
	SourceURL    string
	DeclaredType string
	Settings     NormalizeSettings
	Outputs      []OutputSpec
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	switch sourceType {
	case "":
		return errors.New("source_type is required")
	case SourceTypeLocalFile:
		if strings.TrimSpace(r.ObjectKey) == "" {
			return errors.New("object_key is required for source_type=local_file")
		}
	case SourceTypeHTTPURL:
		if err := validateSourceURL(r.SourceURL); err != nil {
			return err
		}
	case SourceTypeS3Presigned:
	default:
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	if err := r.NormalizeSettings.Validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(r.Outputs))
	for i, out := range r.Outputs {
		id := strings.TrimSpace(out.ID)
		if id == "" {
			return fmt.Errorf("outputs[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("outputs[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}
		if out.Quality != nil && (*out.Quality < 0 || *out.Quality > 1) {
			return fmt.Errorf("outputs[%d].quality must be within [0,1]", i)
		}
	}
	return nil
}

func (s NormalizeSettings) Validate() error {
	if s.MaxDimension < 0 {
		return errors.New("max_dimension must not be negative")
	}
	if strings.TrimSpace(s.SizeThreshold) != "" {
		if _, err := sizespec.Parse(s.SizeThreshold); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(s.ColorSpace)) {
	case "", "srgb", "display-p3":
		return nil
	default:
		return fmt.Errorf("unsupported color_space: %s", s.ColorSpace)
	}
}

// WithDefaults fills settings left empty by the caller.
func (s NormalizeSettings) WithDefaults(defaults NormalizeSettings) NormalizeSettings {
	if s.MaxDimension == 0 {
		s.MaxDimension = defaults.MaxDimension
	}
	if strings.TrimSpace(s.SizeThreshold) == "" {
		s.SizeThreshold = defaults.SizeThreshold
	}
	if strings.TrimSpace(s.ColorSpace) == "" {
		s.ColorSpace = defaults.ColorSpace
	}
	return s
}

// OutputsOrDefault returns the requested outputs, or a single output in the input's
// own type.
func OutputsOrDefault(outputs []OutputSpec) []OutputSpec {
	if len(outputs) > 0 {
		return outputs
	}
	return []OutputSpec{{ID: DefaultOutputID}}
}

func validateSourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("source_url is required for source_type=http_url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid source_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source_url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("source_url must include a host")
	}
	return nil
}
