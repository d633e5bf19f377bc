// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"sync/atomic"
)

// Stats are the monotonic counters a dump run accumulates across all worker
// and pipeline threads.
type Stats struct {
	TotalCollections atomic.Uint64
	TotalBatches     atomic.Uint64
	TotalReceived    atomic.Uint64
	TotalWritten     atomic.Uint64
}

// Wire-level constants of the replication and dump APIs.
const (
	headerCheckMore       = "x-arango-replication-checkmore"
	headerContentType     = "Content-Type"
	headerContentEncoding = "Content-Encoding"
	headerAcceptEncoding  = "Accept-Encoding"
	headerAccept          = "Accept"
	headerDumpID          = "x-arango-dump-id"
	headerDumpShardID     = "x-arango-dump-shard-id"
	headerDumpBlockCounts = "x-arango-dump-block-counts"

	mimeVPack          = "application/x-velocypack"
	mimeDump           = "application/x-arango-dump; charset=utf-8"
	mimeDumpNoEncoding = "application/x-arango-dump"

	encodingGzip = "gzip"
)

// datafileSuffix returns the extension data files carry for the configured
// body format.
func datafileSuffix(useVPack bool) string {
	if useVPack {
		return "vpack"
	}
	return "json"
}
