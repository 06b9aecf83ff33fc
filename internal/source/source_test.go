package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeshJS/mimir/internal/log"
)

// writeTree creates files under dir; keys are slash-separated relative
// paths.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("creating %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

func TestNewDir_Validation(t *testing.T) {
	logger := log.NewNop()

	t.Run("empty root", func(t *testing.T) {
		if _, err := NewDir("", logger); err == nil {
			t.Error("NewDir(\"\") succeeded, want error")
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := NewDir(filepath.Join(t.TempDir(), "nope"), logger); err == nil {
			t.Error("NewDir() on missing directory succeeded, want error")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"plain.md": "x"})
		if _, err := NewDir(filepath.Join(dir, "plain.md"), logger); err == nil {
			t.Error("NewDir() on a file succeeded, want error")
		}
	})
}

func TestList_FiltersAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.md":                "# Home",
		"guide/setup.mdx":         "# Setup",
		"guide/notes.txt":         "notes",
		"guide/deep/ref.markdown": "# Ref",
		"assets/logo.png":         "\x89PNG",
		"script.go":               "package main",
		".hidden.md":              "secret",
		".git/config.md":          "not docs",
		"guide/.draft/wip.md":     "draft",
	})

	d, err := NewDir(dir, log.NewNop())
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}
	docs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	wantPaths := []string{
		"guide/deep/ref.markdown",
		"guide/notes.txt",
		"guide/setup.mdx",
		"index.md",
	}
	if len(docs) != len(wantPaths) {
		t.Fatalf("List() returned %d documents, want %d: %+v", len(docs), len(wantPaths), docs)
	}
	for i, want := range wantPaths {
		if docs[i].Path != want {
			t.Errorf("docs[%d].Path = %q, want %q", i, docs[i].Path, want)
		}
	}
}

func TestList_ContentAndHash(t *testing.T) {
	dir := t.TempDir()
	const content = "# Title\n\nbody line\n"
	writeTree(t, dir, map[string]string{"doc.md": content})

	d, err := NewDir(dir, log.NewNop())
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}
	docs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("List() returned %d documents, want 1", len(docs))
	}

	if docs[0].Content != content {
		t.Errorf("Content = %q, want %q", docs[0].Content, content)
	}
	sum := sha256.Sum256([]byte(content))
	if want := hex.EncodeToString(sum[:]); docs[0].ContentHash != want {
		t.Errorf("ContentHash = %q, want %q", docs[0].ContentHash, want)
	}
}

func TestList_CustomExtensions(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.md":  "# A",
		"b.rst": "B\n=",
	})

	d, err := NewDir(dir, log.NewNop(), WithExtensions("rst"))
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}
	docs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "b.rst" {
		t.Errorf("List() = %+v, want only b.rst", docs)
	}
}

func TestList_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.md": "x"})

	d, err := NewDir(dir, log.NewNop())
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.List(ctx); err == nil {
		t.Error("List() with canceled context succeeded, want error")
	}
}

func TestList_EmptyTree(t *testing.T) {
	d, err := NewDir(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewDir() error = %v", err)
	}
	docs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("List() = %+v, want none", docs)
	}
}
