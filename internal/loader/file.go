// Package loader provides the built-in weight loader that keeps a model's
// bytes resident in a host buffer.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"vramd/internal/catalog"
	"vramd/internal/manager"
)

// File reads the weights at Path (a file, or every regular file beneath a
// directory) into memory.
type File struct {
	Path string
}

// Buffer is a resident set of weight files.
type Buffer struct {
	mu    sync.Mutex
	parts map[string][]byte
	size  int64
}

// Bytes returns the content of one part by its path relative to the weights root.
func (b *Buffer) Bytes(rel string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.parts[rel]
	return p, ok
}

// Parts lists the relative paths held by the buffer.
func (b *Buffer) Parts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.parts))
	for k := range b.parts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Size returns the total number of bytes held.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close drops every reference so the memory can be reclaimed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	b.parts = nil
	b.size = 0
	b.mu.Unlock()
	return nil
}

func (f File) Load(ctx context.Context) (manager.Handle, error) {
	fi, err := os.Stat(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		// weights present only as a legacy single-file checkpoint
		legacy := File{Path: f.Path + catalog.LegacySuffix}
		if lfi, lerr := os.Stat(legacy.Path); lerr == nil && !lfi.IsDir() {
			return legacy.Load(ctx)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("stat weights: %w", err)
	}
	buf := &Buffer{parts: make(map[string][]byte)}
	if !fi.IsDir() {
		if err := buf.read(ctx, f.Path, filepath.Base(f.Path)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	err = filepath.WalkDir(f.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.Path, p)
		if err != nil {
			return err
		}
		return buf.read(ctx, p, filepath.ToSlash(rel))
	})
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	if len(buf.parts) == 0 {
		return nil, fmt.Errorf("read weights: %s contains no files", f.Path)
	}
	return buf, nil
}

func (b *Buffer) read(ctx context.Context, path, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer fh.Close()
	data, err := io.ReadAll(fh)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	b.parts[rel] = data
	b.size += int64(len(data))
	return nil
}
