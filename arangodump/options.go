// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

var Usage = `<options> [output-directory]

Export the content of a running server into a restore-compatible directory.

Connect to a single server or a cluster coordinator with --server.endpoint,
restrict the dump with --collection and --shard, and enable the parallel
per-dbserver pipeline with --parallel-dump.`

// InputOptions defines the set of options selecting what is read from the
// server.
type InputOptions struct {
	Collections              []string `long:"collection" value-name:"<name>" description:"restrict the dump to this collection name (may be specified multiple times)"`
	Shards                   []string `long:"shard" value-name:"<shard-id>" description:"restrict the dump to this shard (may be specified multiple times)"`
	AllDatabases             bool     `long:"all-databases" description:"dump all databases the current user has access to"`
	IncludeSystemCollections bool     `long:"include-system-collections" description:"include system collections"`
	DumpData                 string   `long:"dump-data" choice:"true" choice:"false" default:"true" description:"dump collection data, not only structure information"`
	DumpViews                string   `long:"dump-views" choice:"true" choice:"false" default:"true" description:"dump view definitions"`
	Force                    bool     `long:"force" description:"continue dumping even in the face of some server-side errors"`
	IgnoreDistributeShardsLikeErrors bool `long:"ignore-distribute-shards-like-errors" description:"continue dumping even if a sharding prototype collection is not backed up, too"`
	MaskingsFile             string   `long:"maskings" value-name:"<file>" description:"path to a file with masking definitions"`
}

// Name returns a human-readable group name for input options.
func (*InputOptions) Name() string {
	return "dump scope"
}

// GetDumpData reports whether collection data is dumped.
func (o *InputOptions) GetDumpData() bool {
	return o.DumpData != "false"
}

// GetDumpViews reports whether view definitions are dumped.
func (o *InputOptions) GetDumpViews() bool {
	return o.DumpViews != "false"
}

// OutputOptions defines the set of options for writing dump data.
type OutputOptions struct {
	OutputPath         string `long:"output-directory" value-name:"<directory>" description:"output directory (defaults to 'dump')"`
	Overwrite          bool   `long:"overwrite" description:"overwrite data in the output directory"`
	Progress           string `long:"progress" choice:"true" choice:"false" default:"true" description:"show the progress"`
	Threads            int    `long:"threads" value-name:"<n>" description:"maximum number of collections/shards to process in parallel (defaults to the number of cores)"`
	InitialChunkSize   uint64 `long:"initial-batch-size" value-name:"<bytes>" default:"8388608" description:"initial size for individual data batches"`
	MaxChunkSize       uint64 `long:"batch-size" value-name:"<bytes>" default:"67108864" description:"maximum size for individual data batches"`
	UseGzipForStorage  bool   `long:"compress-output" description:"compress files containing collection contents using the gzip format"`
	UseGzipForTransport bool  `long:"compress-transfer" description:"compress data for transport using the gzip format"`
	UseVPack           bool   `long:"dump-vpack" description:"dump collection data in velocypack format instead of JSON"`
	UseParallelDump    bool   `long:"parallel-dump" description:"enable the parallel per-dbserver dump pipeline"`
	SplitFiles         bool   `long:"split-files" description:"split a collection into multiple files to increase throughput (requires --parallel-dump)"`
	DBServerWorkerThreads   uint64 `long:"dbserver-worker-threads" value-name:"<n>" default:"5" description:"number of worker threads on each dbserver"`
	DBServerPrefetchBatches uint64 `long:"dbserver-prefetch-batches" value-name:"<n>" default:"5" description:"number of batches to prefetch on each dbserver"`
	LocalWriterThreads      uint64 `long:"local-writer-threads" value-name:"<n>" default:"4" description:"number of local writer threads"`
	LocalNetworkThreads     uint64 `long:"local-network-threads" value-name:"<n>" default:"8" description:"number of local network threads, i.e. how many requests are sent in parallel"`
}

// Name returns a human-readable group name for output options.
func (*OutputOptions) Name() string {
	return "output"
}

// GetProgress reports whether progress messages are logged.
func (o *OutputOptions) GetProgress() bool {
	return o.Progress != "false"
}
