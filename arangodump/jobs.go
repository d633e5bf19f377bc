// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/arangodb/arango-tools/common/client"
	"github.com/arangodb/arango-tools/common/directory"
	"github.com/arangodb/arango-tools/common/log"
)

// sharedFile is a data file several shard jobs of one collection write to.
// The last holder to release it closes the file.
type sharedFile struct {
	*directory.File
	refs atomic.Int32
}

func newSharedFile(file *directory.File, holders int32) *sharedFile {
	s := &sharedFile{File: file}
	s.refs.Store(holders)
	return s
}

func (s *sharedFile) release() {
	if s.refs.Add(-1) == 0 {
		s.File.Close()
	}
}

// dumpCollectionJob writes one collection's structure file and pulls its
// data: directly on a single server, via one shard job per shard in a
// cluster. With the parallel pipeline enabled, data is left to the
// per-server jobs and only the structure is written here.
type dumpCollectionJob struct {
	dump           *ArangoDump
	collectionInfo map[string]interface{}
	collectionName string
	batchID        uint64
}

func (j *dumpCollectionJob) Run(c *client.Client) error {
	dump := j.dump
	name := j.collectionName
	parameters := collectionParameters(j.collectionInfo)

	if dump.OutputOptions.GetProgress() {
		log.Logvf(log.Always, "# Dumping collection '%v'...", name)
	}

	dumpStructure := true
	dumpData := dump.InputOptions.GetDumpData()
	if dump.maskings != nil {
		dumpStructure = dump.maskings.ShouldDumpStructure(name)
		dumpData = dumpData && dump.maskings.ShouldDumpData(name)
	}
	if !dumpStructure && !dumpData {
		return nil
	}

	hexString := md5Hex(name)
	dump.stats.TotalCollections.Add(1)

	// collection names may contain arbitrary characters
	escapedName := escapedCollectionName(name, parameters)

	if dumpStructure {
		if err := dump.writeStructureFile(j.collectionInfo, escapedName); err != nil {
			return err
		}
	}

	if dump.OutputOptions.UseParallelDump {
		// data is pulled by the per-dbserver pipeline jobs
		return nil
	}

	// always create the data file so that the restore tool does not
	// complain about a missing one
	filename := fmt.Sprintf("%s_%s.data.%s", escapedName, hexString, datafileSuffix(dump.OutputOptions.UseVPack))
	file, err := dump.directory.WritableFile(filename, true)
	if err != nil {
		return err
	}

	if !dumpData {
		return file.Close()
	}

	if dump.clusterMode {
		// multiple shards may write to the same output file
		return j.queueShardJobs(file, parameters)
	}

	// keep the batch alive, then pull the documents
	client.ExtendBatch(c, dump.syncIDs, "", j.batchID)
	dumpErr := dump.dumpCollection(c, file, name, name, "", j.batchID)
	if closeErr := file.Close(); dumpErr == nil && closeErr != nil {
		return closeErr
	}
	return dumpErr
}

// queueShardJobs fans one collection out into one job per shard, all
// sharing the collection's output file.
func (j *dumpCollectionJob) queueShardJobs(file *directory.File, parameters map[string]interface{}) error {
	dump := j.dump
	shards, _ := parameters["shards"].(map[string]interface{})

	type shardTarget struct {
		shard  string
		server string
	}
	var targets []shardTarget
	shardNames := make([]string, 0, len(shards))
	for shard := range shards {
		shardNames = append(shardNames, shard)
	}
	sort.Strings(shardNames)
	for _, shard := range shardNames {
		if !dump.shardIncluded(shard) {
			// dump is restricted to specific shards
			continue
		}
		servers, _ := shards[shard].([]interface{})
		if len(servers) == 0 {
			file.Close()
			return fmt.Errorf("unexpected value for 'shards' attribute")
		}
		server, ok := servers[0].(string)
		if !ok || server == "" {
			file.Close()
			return fmt.Errorf("unexpected value for 'shards' attribute")
		}
		targets = append(targets, shardTarget{shard: shard, server: server})
	}

	if len(targets) == 0 {
		return file.Close()
	}

	shared := newSharedFile(file, int32(len(targets)))
	for _, target := range targets {
		dump.taskQueue.QueueJob(&dumpShardJob{
			dump:           dump,
			collectionInfo: j.collectionInfo,
			collectionName: j.collectionName,
			shardName:      target.shard,
			server:         target.server,
			file:           shared,
		})
	}
	return nil
}

// dumpShardJob pulls one shard from its dbserver inside a batch of its own.
type dumpShardJob struct {
	dump           *ArangoDump
	collectionInfo map[string]interface{}
	collectionName string
	shardName      string
	server         string
	file           *sharedFile
}

func (j *dumpShardJob) Run(c *client.Client) error {
	dump := j.dump
	defer j.file.release()

	if dump.OutputOptions.GetProgress() {
		log.Logvf(log.Always, "# Dumping shard '%v' of collection '%v' from DBserver '%v'...",
			j.shardName, j.collectionName, j.server)
	}

	// make sure we have a batch on this dbserver
	batchID, err := client.StartBatch(c, dump.syncIDs, j.server)
	if err != nil {
		return err
	}
	defer client.EndBatch(c, dump.syncIDs, j.server, &batchID)

	return dump.dumpCollection(c, j.file.File, j.collectionName, j.shardName, j.server, batchID)
}
