package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewProvider_RequiresPath(t *testing.T) {
	if _, err := NewProvider(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	writeFile(t, path, "limits:\n  requests_per_minute: 7\n")

	p, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Limits.RequestsPerMinute != 7 {
		t.Errorf("requests per minute = %d, want 7", cfg.Limits.RequestsPerMinute)
	}
	if p.Current() != cfg {
		t.Error("Current() should return the loaded config")
	}
}

func TestProvider_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	writeFile(t, path, "limits:\n  requests_per_minute: 7\n")

	p, err := NewProvider(path)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	changes := make(chan *config.Config, 4)
	if err := p.Watch(context.Background(), func(c *config.Config) { changes <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer p.Close()

	// Invalid content is skipped.
	writeFile(t, path, "server:\n  port: -1\n")
	writeFile(t, path, "limits:\n  requests_per_minute: 11\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Limits.RequestsPerMinute == 11 {
				if p.Current().Limits.RequestsPerMinute != 11 {
					t.Error("Current() not updated after reload")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestProvider_CloseWithoutWatch(t *testing.T) {
	p, err := NewProvider("router.yaml")
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
