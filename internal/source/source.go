// Package source lists the documents a sync run ingests.
//
// Dir is the concrete source: it walks a local documentation tree,
// keeps files whose extension marks them as documentation, and returns
// each as an immutable snapshot with a content hash. Paths are
// normalized to slash-separated form relative to the root, so the same
// tree produces the same chunk filepaths on every platform.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeshJS/mimir/internal/log"
)

// Document is one source file's snapshot for a single sync run. The
// sync pipeline never re-reads the file; everything downstream works
// from this copy.
type Document struct {
	// Path is the slash-separated path relative to the source root. It
	// is the filepath key under which the document's chunks are stored.
	Path string
	// Content is the full file text.
	Content string
	// ContentHash is the hex SHA-256 digest of Content.
	ContentHash string
}

// defaultExtensions mark a file as documentation. Matching is
// case-insensitive.
var defaultExtensions = map[string]bool{
	".md":       true,
	".mdx":      true,
	".markdown": true,
	".txt":      true,
}

// Dir lists documents from a local directory tree.
type Dir struct {
	root       string
	extensions map[string]bool
	logger     log.Logger
}

// Option configures a Dir.
type Option func(*Dir)

// WithExtensions replaces the default extension filter. Extensions are
// normalized to lowercase with a leading dot.
func WithExtensions(exts ...string) Option {
	return func(d *Dir) {
		if len(exts) == 0 {
			return
		}
		m := make(map[string]bool, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			m[ext] = true
		}
		if len(m) > 0 {
			d.extensions = m
		}
	}
}

// NewDir creates a source over the tree rooted at root. The root must
// exist and be a directory.
func NewDir(root string, logger log.Logger, opts ...Option) (*Dir, error) {
	if root == "" {
		return nil, errors.New("source root is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving source root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("source root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %q is not a directory", root)
	}

	d := &Dir{
		root:       abs,
		extensions: defaultExtensions,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Root returns the absolute source root.
func (d *Dir) Root() string {
	return d.root
}

// List walks the tree and returns a snapshot of every documentation
// file, sorted by path. Hidden directories (leading dot) are skipped
// entirely. A file that cannot be read fails the listing: silently
// dropping it would make the sync delete its stored chunks.
func (d *Dir) List(ctx context.Context) ([]Document, error) {
	// Reads go through os.Root so a symlink inside the tree cannot
	// escape it.
	root, err := os.OpenRoot(d.root)
	if err != nil {
		return nil, fmt.Errorf("opening source root: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	var docs []Document
	err = filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := info.Name()
		if info.IsDir() {
			if path != d.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !d.extensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", path, err)
		}

		content, err := root.ReadFile(rel)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}

		sum := sha256.Sum256(content)
		docs = append(docs, Document{
			Path:        filepath.ToSlash(rel),
			Content:     string(content),
			ContentHash: hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents under %s: %w", d.root, err)
	}

	d.logger.Debug("listed source documents", "root", d.root, "count", len(docs))
	return docs, nil
}
