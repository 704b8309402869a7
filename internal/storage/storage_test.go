package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/visa-eval-backend/internal/config"
)

func TestObjectKey_Layout(t *testing.T) {
	k := ObjectKey("u1", "e1", "My Resume (final).pdf")
	if !strings.HasPrefix(k, "evaluations/u1/e1/") {
		t.Fatalf("unexpected prefix: %s", k)
	}
	if !strings.HasSuffix(k, "-My_Resume_final.pdf") {
		t.Fatalf("unexpected name: %s", k)
	}
	if ObjectKey("u1", "e1", "a.pdf") == ObjectKey("u1", "e1", "a.pdf") {
		t.Fatalf("keys for the same name must differ")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd":    "passwd",
		`C:\docs\cv.docx`:     "cv.docx",
		"...":                 "document",
		"résumé.pdf":          "rsum.pdf",
		"offer letter v2.doc": "offer_letter_v2.doc",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Fatalf("sanitizeName(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	data := []byte("pdf bytes")
	if err := m.Put(ctx, "k1", data, "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'X'
	got, err := m.Get(ctx, "k1")
	if err != nil || string(got) != "pdf bytes" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	u, err := m.PresignedURL(ctx, "k1", time.Hour)
	if err != nil || !strings.HasPrefix(u, "memory://k1?") {
		t.Fatalf("PresignedURL = %q, %v", u, err)
	}
	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k1"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if _, err := m.PresignedURL(ctx, "k1", time.Hour); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("PresignedURL after delete err = %v", err)
	}
}

func TestMemoryStore_FailPut(t *testing.T) {
	m := NewMemoryStore()
	m.FailPut = errors.New("boom")
	if err := m.Put(context.Background(), "k", nil, ""); err == nil {
		t.Fatalf("expected injected failure")
	}
	if len(m.Keys()) != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestNewS3Store_Presign(t *testing.T) {
	s, err := NewS3Store(config.StorageConfig{
		Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk",
		Bucket: "visa-documents", Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	u, err := s.PresignedURL(context.Background(), "evaluations/u/e/x.pdf", time.Hour)
	if err != nil {
		t.Fatalf("PresignedURL: %v", err)
	}
	if !strings.HasPrefix(u, "http://localhost:9000/visa-documents/evaluations/u/e/x.pdf?") ||
		!strings.Contains(u, "X-Amz-Signature=") {
		t.Fatalf("unexpected presigned url: %s", u)
	}
}

func TestNewS3Store_BadEndpoint(t *testing.T) {
	if _, err := NewS3Store(config.StorageConfig{Endpoint: "http://with-scheme:9000"}); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}
