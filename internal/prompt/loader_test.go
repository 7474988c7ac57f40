package prompt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSystemPrompt_WrapsAndCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PROMPT.md")
	if err := os.WriteFile(path, []byte("be terse"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(path, testLogger())

	got, err := l.SystemPrompt()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "<system-context>\nbe terse\n</system-context>" {
		t.Fatalf("unexpected prompt %q", got)
	}

	// Cached: a change on disk is not visible without invalidation.
	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if again, _ := l.SystemPrompt(); again != got {
		t.Fatalf("expected cached prompt, got %q", again)
	}

	l.invalidate()
	if fresh, _ := l.SystemPrompt(); fresh != "<system-context>\nchanged\n</system-context>" {
		t.Fatalf("expected reloaded prompt, got %q", fresh)
	}
}

func TestSystemPrompt_ReadRacingInvalidateNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PROMPT.md")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(path, testLogger())

	// The file changes and the watcher fires after the read but before the
	// result is cached.
	l.readFile = func(name string) ([]byte, error) {
		data, err := os.ReadFile(name)
		if werr := os.WriteFile(path, []byte("v2"), 0o644); werr != nil {
			t.Fatal(werr)
		}
		l.invalidate()
		return data, err
	}
	got, err := l.SystemPrompt()
	if err != nil {
		t.Fatal(err)
	}
	if got != "<system-context>\nv1\n</system-context>" {
		t.Fatalf("unexpected prompt %q", got)
	}

	l.readFile = os.ReadFile
	if fresh, _ := l.SystemPrompt(); fresh != "<system-context>\nv2\n</system-context>" {
		t.Fatalf("stale prompt cached across invalidation: %q", fresh)
	}
}

func TestSystemPrompt_EmptyPathDisabled(t *testing.T) {
	got, err := NewLoader("", testLogger()).SystemPrompt()
	if err != nil || got != "" {
		t.Fatalf("expected empty prompt, got %q, %v", got, err)
	}
}

func TestSystemPrompt_MissingFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "nope.md"), testLogger()).SystemPrompt(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatch_InvalidatesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PROMPT.md")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(path, testLogger())
	if _, err := l.SystemPrompt(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	want := "<system-context>\nv2\n</system-context>"
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// Rewrite until the watcher is registered and observes a change.
		if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
		if got, _ := l.SystemPrompt(); got == want {
			return
		}
	}
	t.Fatal("watcher did not invalidate the cached prompt")
}
