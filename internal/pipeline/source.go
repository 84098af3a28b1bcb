package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/sniff"
	"github.com/dunamismax/pixelnorm/internal/storage"
)

const defaultMaxSourceBytes = 64 << 20

var ErrSourceTooLarge = errors.New("source exceeds size limit")

// Source produces the raw bytes of an input together with its declared type.
type Source interface {
	Read(ctx context.Context) (File, error)
}

// BytesSource is an in-memory buffer.
type BytesSource File

func (s BytesSource) Read(ctx context.Context) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	return File(s), nil
}

// FileSource reads a local file. An empty Type is derived from the extension, then
// from the leading bytes.
type FileSource struct {
	Path string
	Type string
}

func (s FileSource) Read(ctx context.Context) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return File{}, fmt.Errorf("read input file %s: %w", s.Path, err)
	}

	declared := s.Type
	if declared == "" {
		declared = guessType(s.Path, data)
	}
	return File{Name: filepath.Base(s.Path), Type: declared, Data: data}, nil
}

// URLSource downloads the input over HTTP(S). The response Content-Type is taken as
// the declared type.
type URLSource struct {
	URL      string
	Client   *http.Client
	MaxBytes int64
}

func (s URLSource) Read(ctx context.Context) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return File{}, fmt.Errorf("build request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("execute request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return File{}, fmt.Errorf("unexpected status code on download: %d", res.StatusCode)
	}

	data, err := readLimited(res.Body, s.MaxBytes)
	if err != nil {
		return File{}, err
	}

	declared := res.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		declared = mediaType
	}
	if declared == "" || declared == "application/octet-stream" {
		declared = guessType(req.URL.Path, data)
	}

	return File{Name: filepath.Base(req.URL.Path), Type: declared, Data: data}, nil
}

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string) (storage.Object, error)
}

// ObjectSource reads an object from the object store. An empty Type falls back to the
// object's stored content type.
type ObjectSource struct {
	Storage objectReader
	Key     string
	Type    string
}

func (s ObjectSource) Read(ctx context.Context) (File, error) {
	if s.Storage == nil {
		return File{}, errors.New("storage client is required")
	}

	obj, err := s.Storage.ReadObject(ctx, s.Key)
	if err != nil {
		return File{}, err
	}

	declared := s.Type
	if declared == "" {
		declared = obj.ContentType
	}
	if declared == "" || declared == "application/octet-stream" {
		declared = guessType(s.Key, obj.Data)
	}
	return File{Name: filepath.Base(s.Key), Type: declared, Data: obj.Data}, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, maxBytes)
	}
	return data, nil
}

func guessType(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if t := canonicalType(strings.TrimPrefix(ext, ".")); t != "" {
			return t
		}
		if t := mime.TypeByExtension(ext); t != "" {
			if mediaType, _, err := mime.ParseMediaType(t); err == nil {
				return mediaType
			}
		}
	}
	if f := sniff.Classify(data); f != sniff.Unknown {
		return f.MIMEType()
	}
	return ""
}
