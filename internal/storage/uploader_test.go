package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewUploaderValidation(t *testing.T) {
	valid := Config{Region: "ru-1", AccessKey: "a", SecretKey: "s", Bucket: "b", PublicBaseURL: "https://cdn"}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bucket", mutate: func(c *Config) { c.Bucket = "" }},
		{name: "region", mutate: func(c *Config) { c.Region = "" }},
		{name: "credentials", mutate: func(c *Config) { c.SecretKey = "" }},
		{name: "public url", mutate: func(c *Config) { c.PublicBaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewUploader(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	u, err := NewUploader(valid)
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if u.cfg.Prefix != "references" || u.cfg.ExportPrefix != "exports" {
		t.Errorf("default prefixes: %q %q", u.cfg.Prefix, u.cfg.ExportPrefix)
	}
}

func TestDatedKey(t *testing.T) {
	u := &Uploader{now: func() time.Time { return time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC) }}
	if got := u.datedKey("/exports/", "payments.csv"); got != "exports/2026/02/03/payments.csv" {
		t.Errorf("got %q", got)
	}
}

func TestExtensionFromContentType(t *testing.T) {
	tests := map[string]string{
		"image/png":  ".png",
		"IMAGE/JPEG": ".jpg",
		"image/webp": ".webp",
		"text/csv":   ".bin",
	}
	for in, want := range tests {
		if got := extensionFromContentType(in); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestArchivePutsPrivateObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		acl    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path, acl = r.Method, r.URL.Path, r.Header.Get("X-Amz-Acl")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewUploader(Config{
		Endpoint:      srv.URL,
		Region:        "us-east-1",
		AccessKey:     "a",
		SecretKey:     "s",
		Bucket:        "ledger",
		PublicBaseURL: "https://cdn",
		UsePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}

	key, err := u.Archive(context.Background(), "payments.csv", []byte("id\n1\n"), "text/csv")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(key, "exports/") || !strings.HasSuffix(key, "/payments.csv") {
		t.Errorf("key: %q", key)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || !strings.HasPrefix(path, "/ledger/exports/") {
		t.Errorf("request: %s %s", method, path)
	}
	if acl != "private" {
		t.Errorf("acl: got %q, want private", acl)
	}
}
