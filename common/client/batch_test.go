// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// batchRecorder tracks batch lifecycle calls on the fake server.
type batchRecorder struct {
	mu      sync.Mutex
	started int
	extends int
	ended   int
	queries []string
}

func (rec *batchRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/_api/replication/batch") {
			http.NotFound(w, r)
			return
		}
		rec.mu.Lock()
		rec.queries = append(rec.queries, r.URL.RawQuery)
		switch r.Method {
		case http.MethodPost:
			rec.started++
		case http.MethodPut:
			rec.extends++
		case http.MethodDelete:
			rec.ended++
		}
		rec.mu.Unlock()
		w.Write([]byte(`{"id":"4711"}`))
	})
}

func TestBatchLifecycle(t *testing.T) {
	Convey("With a batch against a fake server", t, func() {
		rec := &batchRecorder{}
		server := httptest.NewServer(rec.handler())
		defer server.Close()
		c := testManager(t, server).NewClient()
		ids := SyncIDs{ClientID: "1234", SyncerID: "5678"}

		Convey("start, extend, and end pair up", func() {
			batchID, err := StartBatch(c, ids, "")
			So(err, ShouldBeNil)
			So(batchID, ShouldEqual, 4711)

			ExtendBatch(c, ids, "", batchID)
			EndBatch(c, ids, "", &batchID)
			So(batchID, ShouldEqual, 0)

			// a second end is a no-op because the id was zeroed
			EndBatch(c, ids, "", &batchID)

			So(rec.started, ShouldEqual, 1)
			So(rec.extends, ShouldEqual, 1)
			So(rec.ended, ShouldEqual, 1)
			So(rec.queries[0], ShouldContainSubstring, "serverId=1234")
			So(rec.queries[0], ShouldContainSubstring, "syncerId=5678")
		})

		Convey("a dbserver target is threaded into the query string", func() {
			batchID, err := StartBatch(c, ids, "PRMR-1")
			So(err, ShouldBeNil)
			EndBatch(c, ids, "PRMR-1", &batchID)

			So(rec.queries[0], ShouldContainSubstring, "DBserver=PRMR-1")
			So(rec.queries[1], ShouldContainSubstring, "DBserver=PRMR-1")
		})
	})
}

func TestNewSyncIDs(t *testing.T) {
	Convey("Generated sync ids", t, func() {
		ids := NewSyncIDs()

		Convey("are non-empty decimal strings", func() {
			So(ids.ClientID, ShouldNotBeEmpty)
			So(ids.SyncerID, ShouldNotBeEmpty)
		})

		Convey("differ between successive draws", func() {
			other := NewSyncIDs()
			So(ids.SyncerID, ShouldNotEqual, other.SyncerID)
		})
	})
}
