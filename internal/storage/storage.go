// Package storage keeps uploaded evaluation documents in an S3-compatible
// bucket.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is the object storage used by the evaluation pipeline.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ObjectKey builds evaluations/<userID>/<evalID>/<uuid>-<name>. The random
// prefix keeps same-named uploads apart.
func ObjectKey(userID, evaluationID, fileName string) string {
	return path.Join("evaluations", userID, evaluationID, uuid.NewString()+"-"+sanitizeName(fileName))
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "document"
	}
	return out
}
