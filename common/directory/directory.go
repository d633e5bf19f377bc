// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package directory manages a dump output directory tree and hands out
// writable files, optionally wrapping them in gzip compression.
package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
)

const defaultPermissions = 0755

// ErrNotEmpty is returned when the target directory already contains files
// and overwriting was not requested.
var ErrNotEmpty = errors.New("output directory is not empty")

// Directory is a managed output directory. All dump artifacts of one
// database end up in a single Directory.
type Directory struct {
	path        string
	gzipEnabled bool
}

// New creates (or reuses) the directory at path. When overwrite is false and
// the directory already exists with contents, ErrNotEmpty is returned. When
// gzipEnabled is true, files created with gzipOK are transparently
// gzip-compressed and carry a .gz name suffix.
func New(path string, overwrite bool, gzipEnabled bool) (*Directory, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("output path '%v' exists and is not a directory", path)
		}
		if !overwrite {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("cannot read output directory '%v': %v", path, err)
			}
			if len(entries) > 0 {
				return nil, fmt.Errorf("%w: '%v'", ErrNotEmpty, path)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("cannot stat output directory '%v': %v", path, err)
	}

	if err := os.MkdirAll(path, defaultPermissions); err != nil {
		return nil, fmt.Errorf("cannot create output directory '%v': %v", path, err)
	}
	return &Directory{path: path, gzipEnabled: gzipEnabled}, nil
}

// Path returns the directory's location on disk.
func (d *Directory) Path() string {
	return d.path
}

// Subdirectory creates a managed directory below this one, with the same
// compression settings.
func (d *Directory) Subdirectory(name string, overwrite bool) (*Directory, error) {
	return New(filepath.Join(d.path, name), overwrite, d.gzipEnabled)
}

// WritableFile creates the named file inside the directory, truncating any
// previous content. gzipOK marks files that may be compressed when the
// directory has storage compression enabled; structure and meta files pass
// false so that they stay plain JSON.
func (d *Directory) WritableFile(name string, gzipOK bool) (*File, error) {
	useGzip := d.gzipEnabled && gzipOK
	if useGzip {
		name += ".gz"
	}
	path := filepath.Join(d.path, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create file '%v': %v", path, err)
	}
	file := &File{path: path, f: f}
	if useGzip {
		file.gz = gzip.NewWriter(f)
	}
	return file, nil
}

// File is a writable dump file. Write is internally synchronized: in
// combined cluster mode several shards share one File, so each Write call
// must land in the output as one contiguous block. Holders that share a File
// rely on this.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
	gz   *gzip.Writer
}

// Path returns the file's location on disk.
func (f *File) Path() string {
	return f.path
}

// Write writes p as one contiguous block.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gz != nil {
		return f.gz.Write(p)
	}
	return f.f.Write(p)
}

// Close flushes any compression buffers and closes the file. Close is safe
// to call once per File; the provider or the last writer does it.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gz != nil {
		if err := f.gz.Close(); err != nil {
			f.f.Close()
			return fmt.Errorf("cannot finish compressed file '%v': %v", f.path, err)
		}
		f.gz = nil
	}
	return f.f.Close()
}
