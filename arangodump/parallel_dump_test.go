// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeBatch struct {
	shard string
	body  string
}

// fakeDumpServer implements the /_api/dump wire API from a fixed batch
// list.
type fakeDumpServer struct {
	mu          sync.Mutex
	batches     []fakeBatch
	next        int
	started     int
	finished    int
	fail503Once bool
	failed      bool
}

func (f *fakeDumpServer) register(mux *http.ServeMux) {
	mux.HandleFunc("/_api/dump/start", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.started++
		f.mu.Unlock()
		w.Header().Set(headerDumpID, "dctx-1")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/_api/dump/next/dctx-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail503Once && !f.failed {
			f.failed = true
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if f.next >= len(f.batches) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		batch := f.batches[f.next]
		f.next++
		w.Header().Set(headerDumpShardID, batch.shard)
		w.Header().Set(headerDumpBlockCounts, "1")
		w.Header().Set("Content-Type", mimeDumpNoEncoding)
		w.Write([]byte(batch.body))
	})
	mux.HandleFunc("/_api/dump/dctx-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.finished++
			f.mu.Unlock()
		}
		w.Write([]byte("{}"))
	})
}

func parallelTestCollections() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"c": {"parameters": map[string]interface{}{"name": "c", "id": "200"}},
	}
}

func runParallelServer(t *testing.T, fake *fakeDumpServer, splitFiles bool) (*ArangoDump, error) {
	t.Helper()
	mux := http.NewServeMux()
	fake.register(mux)
	server := testServer(mux)
	defer server.Close()

	dump := newTestDump(t, server.URL)
	dump.OutputOptions.UseParallelDump = true
	dump.OutputOptions.SplitFiles = splitFiles
	openTestDirectory(t, dump)

	provider, err := newDumpFileProvider(dump.directory, parallelTestCollections(),
		splitFiles, false)
	if err != nil {
		t.Fatalf("cannot create file provider: %v", err)
	}

	shards := map[string]shardInfo{
		"s1": {collectionName: "c"},
		"s2": {collectionName: "c"},
	}
	p := newParallelDumpServer(dump, provider, shards, "PRMR-1")
	runErr := p.Run(dump.clientManager.NewClient())
	if closeErr := provider.Close(); runErr == nil && closeErr != nil {
		runErr = closeErr
	}
	return dump, runErr
}

// collectDocuments reads every data file of collection c in the dump
// directory and returns the union of their lines.
func collectDocuments(t *testing.T, dump *ArangoDump) ([]string, []string) {
	t.Helper()
	entries, err := os.ReadDir(dump.directory.Path())
	if err != nil {
		t.Fatal(err)
	}
	var files, docs []string
	for _, entry := range entries {
		if !strings.Contains(entry.Name(), ".data.json") {
			continue
		}
		files = append(files, entry.Name())
		content, err := os.ReadFile(filepath.Join(dump.directory.Path(), entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
			if line != "" {
				docs = append(docs, line)
			}
		}
	}
	sort.Strings(files)
	sort.Strings(docs)
	return files, docs
}

func TestParallelDumpCombined(t *testing.T) {
	Convey("With two shards streaming into one collection file", t, func() {
		fake := &fakeDumpServer{batches: []fakeBatch{
			{shard: "s1", body: "{\"_key\":\"1\"}\n{\"_key\":\"2\"}\n"},
			{shard: "s2", body: "{\"_key\":\"3\"}\n"},
			{shard: "s1", body: "{\"_key\":\"4\"}\n"},
		}}
		dump, err := runParallelServer(t, fake, false)
		So(err, ShouldBeNil)

		Convey("every document lands exactly once in the shared file", func() {
			files, docs := collectDocuments(t, dump)
			So(files, ShouldResemble, []string{"c_" + md5Hex("c") + ".data.json"})
			So(docs, ShouldResemble, []string{
				`{"_key":"1"}`, `{"_key":"2"}`, `{"_key":"3"}`, `{"_key":"4"}`,
			})
		})

		Convey("the dump context is created and destroyed exactly once", func() {
			So(fake.started, ShouldEqual, 1)
			So(fake.finished, ShouldEqual, 1)
		})

		Convey("the stats counters cover all batches", func() {
			So(dump.stats.TotalBatches.Load(), ShouldEqual, 3)
			So(dump.stats.TotalReceived.Load(), ShouldBeGreaterThan, 0)
		})
	})
}

func TestParallelDumpSplitFiles(t *testing.T) {
	Convey("With split files enabled", t, func() {
		fake := &fakeDumpServer{batches: []fakeBatch{
			{shard: "s1", body: "{\"_key\":\"1\"}\n"},
			{shard: "s2", body: "{\"_key\":\"2\"}\n"},
			{shard: "s1", body: "{\"_key\":\"3\"}\n"},
			{shard: "s2", body: "{\"_key\":\"4\"}\n"},
		}}
		dump, err := runParallelServer(t, fake, true)
		So(err, ShouldBeNil)

		Convey("the documents are spread over sequence-numbered files, each exactly once", func() {
			files, docs := collectDocuments(t, dump)
			So(len(files), ShouldBeGreaterThanOrEqualTo, 1)
			for _, name := range files {
				So(name, ShouldStartWith, "c_"+md5Hex("c")+".")
				So(name, ShouldEndWith, ".data.json")
			}
			So(docs, ShouldResemble, []string{
				`{"_key":"1"}`, `{"_key":"2"}`, `{"_key":"3"}`, `{"_key":"4"}`,
			})
		})
	})
}

func TestParallelDumpRetriesOnce(t *testing.T) {
	Convey("With a server that answers 503 once before delivering", t, func() {
		fake := &fakeDumpServer{
			batches:     []fakeBatch{{shard: "s1", body: "{\"_key\":\"1\"}\n"}},
			fail503Once: true,
		}
		start := time.Now()
		dump, err := runParallelServer(t, fake, false)
		So(err, ShouldBeNil)

		Convey("a single backoff sleep is observed and the batch still arrives", func() {
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 450*time.Millisecond)
			So(dump.stats.TotalBatches.Load(), ShouldEqual, 1)
			_, docs := collectDocuments(t, dump)
			So(docs, ShouldResemble, []string{`{"_key":"1"}`})
		})
	})
}

func TestParallelDumpUnexpectedShard(t *testing.T) {
	Convey("With a server returning an unknown shard id", t, func() {
		fake := &fakeDumpServer{batches: []fakeBatch{
			{shard: "sX", body: "{\"_key\":\"1\"}\n"},
		}}
		_, err := runParallelServer(t, fake, false)

		Convey("the job fails", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unexpected shard")
		})
	})
}

func TestParallelDumpMissingDumpID(t *testing.T) {
	Convey("With a server that omits the dump id header", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/_api/dump/start", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		server := testServer(mux)
		defer server.Close()

		dump := newTestDump(t, server.URL)
		dump.OutputOptions.UseParallelDump = true
		openTestDirectory(t, dump)
		provider, err := newDumpFileProvider(dump.directory, parallelTestCollections(), false, false)
		So(err, ShouldBeNil)
		defer provider.Close()

		p := newParallelDumpServer(dump, provider, map[string]shardInfo{"s1": {collectionName: "c"}}, "PRMR-1")
		err = p.Run(dump.clientManager.NewClient())

		Convey("creating the dump context fails", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "dump id")
		})
	})
}
