// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arangodb/arango-tools/common/directory"
)

// dumpFileProvider maps collections to their data files for the parallel
// dump. In combined mode every collection gets exactly one shared file,
// opened up front so that the restore tool never sees a missing file; all
// shards of the collection write to it. In split mode every GetFile call
// opens a fresh file with a per-collection sequence number, owned by the
// calling writer.
type dumpFileProvider struct {
	directory  *directory.Directory
	splitFiles bool
	useVPack   bool

	mu          sync.Mutex
	collections map[string]map[string]interface{}
	files       map[string]*collectionFiles
}

type collectionFiles struct {
	count uint64
	file  *directory.File
}

func collectionParameters(info map[string]interface{}) map[string]interface{} {
	parameters, _ := info["parameters"].(map[string]interface{})
	return parameters
}

// newDumpFileProvider creates the provider over the collections selected for
// this database. collections is the restrict list; entries with a nil
// descriptor were requested but not found and get no file.
func newDumpFileProvider(dir *directory.Directory, collections map[string]map[string]interface{}, splitFiles, useVPack bool) (*dumpFileProvider, error) {
	p := &dumpFileProvider{
		directory:   dir,
		splitFiles:  splitFiles,
		useVPack:    useVPack,
		collections: collections,
		files:       map[string]*collectionFiles{},
	}
	if splitFiles {
		return p, nil
	}

	// restore compatibility mode: create a file for each collection, even
	// if it stays empty
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := collections[name]
		if info == nil {
			// collection name not present in dump
			continue
		}
		escapedName := escapedCollectionName(name, collectionParameters(info))
		filename := fmt.Sprintf("%s_%s.data.%s", escapedName, md5Hex(name), datafileSuffix(useVPack))
		file, err := dir.WritableFile(filename, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open file %v for writing: %v", filename, err)
		}
		p.files[name] = &collectionFiles{file: file}
	}
	return p, nil
}

// Split reports whether each GetFile call hands out a fresh, caller-owned
// file.
func (p *dumpFileProvider) Split() bool {
	return p.splitFiles
}

// GetFile resolves the output file for one collection. In split mode the
// caller owns the returned file and must close it; in combined mode the
// file is shared and closed by the provider.
func (p *dumpFileProvider) GetFile(name string) (*directory.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, found := p.collections[name]
	if !found || info == nil {
		return nil, fmt.Errorf("no file for unknown collection '%v'", name)
	}

	if p.splitFiles {
		files := p.files[name]
		if files == nil {
			files = &collectionFiles{}
			p.files[name] = files
		}
		sequence := files.count
		files.count++

		escapedName := escapedCollectionName(name, collectionParameters(info))
		filename := fmt.Sprintf("%s_%s.%d.data.%s", escapedName, md5Hex(name), sequence, datafileSuffix(p.useVPack))
		file, err := p.directory.WritableFile(filename, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open file %v for writing: %v", filename, err)
		}
		return file, nil
	}

	return p.files[name].file, nil
}

// Close releases the shared combined-mode files. Split-mode files belong to
// their writers.
func (p *dumpFileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, files := range p.files {
		if files.file == nil {
			continue
		}
		if err := files.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		files.file = nil
	}
	return firstErr
}
