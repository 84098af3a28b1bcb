package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

type objectStore interface {
	objectReader
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage objectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) (File, error) {
	if f.Storage == nil {
		return File{}, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return File{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return ObjectSource{Storage: f.Storage, Key: req.ObjectKey, Type: req.DeclaredType}.Read(ctx)
}

type ObjectStoreEmitter struct {
	Storage      objectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, spec domain.OutputSpec, data []byte, mimeType string, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(spec.ID) == "" {
		return Output{}, errors.New("output id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		fmt.Sprintf("%s.%s", sanitizePathToken(spec.ID), extensionForType(mimeType)),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, data, mimeType); err != nil {
		return Output{}, err
	}

	return Output{
		OutputID: spec.ID,
		Format:   mimeType,
		Path:     objectKey,
		Bytes:    len(data),
		Width:    width,
		Height:   height,
		Success:  true,
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
