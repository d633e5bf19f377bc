// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeSingleServer serves the replication API of a single server holding a
// 'users' collection with three documents, an empty '_apps' system
// collection, a deleted collection, and one view.
type fakeSingleServer struct {
	mu           sync.Mutex
	batchesOpen  int
	batchStarts  int
	batchEnds    int
	dumpRequests []string
}

func (f *fakeSingleServer) inventory() string {
	return `{
		"tick": "123456",
		"properties": {"id": "1", "name": "testdb"},
		"collections": [
			{"parameters": {"name": "users", "id": "100", "deleted": false}, "indexes": []},
			{"parameters": {"name": "_apps", "id": "101", "deleted": false}, "indexes": []},
			{"parameters": {"name": "olddata", "id": "102", "deleted": true}, "indexes": []}
		],
		"views": [
			{"name": "v1", "id": "300", "type": "arangosearch"}
		]
	}`
}

func (f *fakeSingleServer) register(mux *http.ServeMux) {
	mux.HandleFunc("/_admin/server/role", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"role":"SINGLE"}`))
	})
	mux.HandleFunc("/_api/replication/batch", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.batchStarts++
		f.batchesOpen++
		f.mu.Unlock()
		w.Write([]byte(`{"id":"77"}`))
	})
	mux.HandleFunc("/_api/replication/batch/77", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.batchEnds++
			f.batchesOpen--
			f.mu.Unlock()
		}
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/_api/replication/inventory", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.inventory()))
	})
	mux.HandleFunc("/_api/replication/dump", func(w http.ResponseWriter, r *http.Request) {
		collection := r.URL.Query().Get("collection")
		f.mu.Lock()
		f.dumpRequests = append(f.dumpRequests, collection)
		f.mu.Unlock()

		w.Header().Set("Content-Type", mimeDumpNoEncoding)
		w.Header().Set(headerCheckMore, "false")
		if collection == "users" {
			w.Write([]byte("{\"_key\":\"1\"}\n{\"_key\":\"2\"}\n{\"_key\":\"3\"}\n"))
		}
	})
}

func runFullDump(t *testing.T, configure func(*ArangoDump)) (*ArangoDump, *fakeSingleServer, error) {
	t.Helper()
	fake := &fakeSingleServer{}
	mux := http.NewServeMux()
	fake.register(mux)
	server := testServer(mux)
	defer server.Close()

	dump := newTestDump(t, server.URL)
	if configure != nil {
		configure(dump)
	}
	err := dump.Dump()
	return dump, fake, err
}

func readOutputFiles(t *testing.T, dump *ArangoDump) map[string]string {
	t.Helper()
	files := map[string]string{}
	entries, err := os.ReadDir(dump.OutputOptions.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		content, err := os.ReadFile(filepath.Join(dump.OutputOptions.OutputPath, entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		files[entry.Name()] = string(content)
	}
	return files
}

func TestSingleServerDump(t *testing.T) {
	Convey("With a default dump of a single server", t, func() {
		dump, fake, err := runFullDump(t, nil)
		So(err, ShouldBeNil)
		files := readOutputFiles(t, dump)

		Convey("the database meta file is written", func() {
			So(files, ShouldContainKey, "dump.json")
			var meta map[string]interface{}
			So(json.Unmarshal([]byte(files["dump.json"]), &meta), ShouldBeNil)
			So(meta["database"], ShouldEqual, "testdb")
			So(meta["lastTickAtDumpStart"], ShouldEqual, "123456")
			So(meta["useEnvelope"], ShouldEqual, false)
			So(meta["useVPack"], ShouldEqual, false)
		})

		Convey("the users collection gets structure and data files", func() {
			So(files, ShouldContainKey, "users.structure.json")
			dataFile := fmt.Sprintf("users_%s.data.json", md5Hex("users"))
			So(files, ShouldContainKey, dataFile)
			lines := strings.Split(strings.TrimRight(files[dataFile], "\n"), "\n")
			So(len(lines), ShouldEqual, 3)
		})

		Convey("the view definition is written", func() {
			So(files, ShouldContainKey, "v1.view.json")
		})

		Convey("system and deleted collections leave no files", func() {
			for name := range files {
				So(name, ShouldNotStartWith, "_apps")
				So(name, ShouldNotStartWith, "olddata")
			}
		})

		Convey("the batch is created and ended exactly once", func() {
			So(fake.batchStarts, ShouldEqual, 1)
			So(fake.batchEnds, ShouldEqual, 1)
			So(fake.batchesOpen, ShouldEqual, 0)
		})

		Convey("the stats counters are consistent", func() {
			So(dump.stats.TotalCollections.Load(), ShouldEqual, 1)
			So(dump.stats.TotalWritten.Load(), ShouldBeLessThanOrEqualTo, dump.stats.TotalReceived.Load())
		})
	})
}

func TestSingleServerDumpIncludesSystem(t *testing.T) {
	Convey("With --include-system-collections", t, func() {
		dump, _, err := runFullDump(t, func(dump *ArangoDump) {
			dump.InputOptions.IncludeSystemCollections = true
		})
		So(err, ShouldBeNil)
		files := readOutputFiles(t, dump)

		Convey("the system collection gets its structure and an empty data file", func() {
			So(files, ShouldContainKey, "_apps.structure.json")
			dataFile := fmt.Sprintf("_apps_%s.data.json", md5Hex("_apps"))
			So(files, ShouldContainKey, dataFile)
			So(files[dataFile], ShouldBeEmpty)
		})

		Convey("both collections are counted", func() {
			So(dump.stats.TotalCollections.Load(), ShouldEqual, 2)
		})
	})
}

func TestSingleServerStructureOnly(t *testing.T) {
	Convey("With --dump-data=false", t, func() {
		dump, fake, err := runFullDump(t, func(dump *ArangoDump) {
			dump.InputOptions.DumpData = "false"
		})
		So(err, ShouldBeNil)
		files := readOutputFiles(t, dump)

		Convey("data files exist but stay empty and no dump requests are made", func() {
			So(files, ShouldContainKey, "users.structure.json")
			dataFile := fmt.Sprintf("users_%s.data.json", md5Hex("users"))
			So(files, ShouldContainKey, dataFile)
			So(files[dataFile], ShouldBeEmpty)
			So(len(fake.dumpRequests), ShouldEqual, 0)
		})
	})
}

func TestRequestedCollectionsNotFound(t *testing.T) {
	Convey("With a restriction to a collection the database does not have", t, func() {
		_, _, err := runFullDump(t, func(dump *ArangoDump) {
			dump.InputOptions.Collections = []string{"missing"}
		})

		Convey("the dump aborts with a diagnostic", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "none of the requested collections were found")
		})
	})
}

func TestRequestedSystemCollectionEnablesSystem(t *testing.T) {
	Convey("With an explicitly requested system collection", t, func() {
		dump, _, err := runFullDump(t, func(dump *ArangoDump) {
			dump.InputOptions.Collections = []string{"_apps"}
		})
		So(err, ShouldBeNil)

		Convey("--include-system-collections is enabled automatically", func() {
			So(dump.InputOptions.IncludeSystemCollections, ShouldBeTrue)
			files := readOutputFiles(t, dump)
			So(files, ShouldContainKey, "_apps.structure.json")
		})
	})
}

func TestDistributeShardsLikeVerification(t *testing.T) {
	Convey("With a cluster whose collection depends on an undumped prototype", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/_admin/server/role", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"role":"COORDINATOR"}`))
		})
		mux.HandleFunc("/_api/replication/clusterInventory", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{
				"tick": "9",
				"properties": {"id": "1"},
				"collections": [
					{"parameters": {"name": "proto", "id": "1", "deleted": false, "shards": {"s1": ["PRMR-1"]}}},
					{"parameters": {"name": "c1", "id": "2", "deleted": false, "distributeShardsLike": "proto", "shards": {"s2": ["PRMR-1"]}}}
				],
				"views": []
			}`))
		})
		server := testServer(mux)
		defer server.Close()

		Convey("restricting the dump to the dependent collection fails", func() {
			dump := newTestDump(t, server.URL)
			dump.InputOptions.Collections = []string{"c1"}
			err := dump.Dump()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "shard distribution is based on")
		})

		Convey("--ignore-distribute-shards-like-errors suppresses the check", func() {
			dump := newTestDump(t, server.URL)
			dump.InputOptions.Collections = []string{"c1"}
			dump.InputOptions.IgnoreDistributeShardsLikeErrors = true
			dump.InputOptions.DumpData = "false"
			err := dump.Dump()
			So(err, ShouldBeNil)
		})
	})
}
