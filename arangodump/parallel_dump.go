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
	"net/url"
	"sort"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/arangodb/arango-tools/common/channel"
	"github.com/arangodb/arango-tools/common/client"
	"github.com/arangodb/arango-tools/common/directory"
	"github.com/arangodb/arango-tools/common/log"
	"github.com/arangodb/arango-tools/common/util"
)

// shardInfo describes one shard assigned to a parallel per-server job.
type shardInfo struct {
	collectionName string
}

// Block counter axes. The local axis watches the bounded channel between
// network and writer threads; the remote axis mirrors the dbserver-side
// queue as reported in response headers.
const (
	blockLocalQueue = iota
	blockRemoteQueue
)

// parallelDumpServer streams all shards resident on one dbserver through a
// server-side dump context: network threads pull batches in parallel and
// push them into a bounded channel, writer threads drain the channel into
// the per-collection files.
type parallelDumpServer struct {
	dump         *ArangoDump
	fileProvider *dumpFileProvider
	shards       map[string]shardInfo
	server       string

	queue        *channel.BoundedChannel[*client.Response]
	batchCounter atomic.Uint64
	dumpID       string
	blockCounter [2]atomic.Int64
}

func newParallelDumpServer(dump *ArangoDump, fileProvider *dumpFileProvider, shards map[string]shardInfo, server string) *parallelDumpServer {
	return &parallelDumpServer{
		dump:         dump,
		fileProvider: fileProvider,
		shards:       shards,
		server:       server,
		queue:        channel.NewBoundedChannel[*client.Response](int(dump.OutputOptions.LocalWriterThreads)),
	}
}

// createDumpContext asks the server to set up a dump context for our shards
// and records its id.
func (p *parallelDumpServer) createDumpContext(c *client.Client) error {
	opts := p.dump.OutputOptions

	shardNames := make([]string, 0, len(p.shards))
	for shard := range p.shards {
		shardNames = append(shardNames, shard)
	}
	sort.Strings(shardNames)

	body, err := json.Marshal(map[string]interface{}{
		"batchSize":     opts.MaxChunkSize,
		"prefetchCount": opts.DBServerPrefetchBatches,
		"parallelism":   opts.DBServerWorkerThreads,
		"shards":        shardNames,
	})
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/_api/dump/start?useVPack=%v", opts.UseVPack)
	if p.server != "" {
		path += "&dbserver=" + url.QueryEscape(p.server)
	}

	resp, err := client.DoWithRetry(func() (*client.Response, error) {
		return c.Do("POST", path, body, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to create dump context%v: %w", util.ServerLabel(p.server), err)
	}

	dumpID, found := resp.HeaderValue(headerDumpID)
	if !found {
		return fmt.Errorf("dump create response did not contain any dump id%v. body: %s",
			util.ServerLabel(p.server), resp.Body)
	}
	p.dumpID = dumpID
	return nil
}

// finishDumpContext removes the dump context from the server. Failures are
// logged but not propagated; the context times out on its own eventually.
func (p *parallelDumpServer) finishDumpContext(c *client.Client) {
	path := "/_api/dump/" + url.PathEscape(p.dumpID)
	if p.server != "" {
		path += "?dbserver=" + url.QueryEscape(p.server)
	}
	resp, err := c.Do("DELETE", path, nil, nil)
	if err := client.Check(resp, err); err != nil {
		log.Logvf(log.Always, "failed to finish dump context%v: %v", util.ServerLabel(p.server), err)
	}
}

func (p *parallelDumpServer) Run(c *client.Client) error {
	opts := p.dump.OutputOptions
	log.Logvf(log.Info, "preparing data stream%v, using %v DBServer worker thread(s), "+
		"%v network thread(s), %v local writer thread(s), number of prefetch batches: %v",
		util.ServerLabel(p.server), opts.DBServerWorkerThreads, opts.LocalNetworkThreads,
		opts.LocalWriterThreads, opts.DBServerPrefetchBatches)

	// create the context on the dbserver
	if err := p.createDumpContext(c); err != nil {
		return err
	}

	var group errgroup.Group
	for i := uint64(0); i < opts.LocalNetworkThreads; i++ {
		threadID := i
		guard := p.queue.AddProducer()
		group.Go(func() error {
			defer guard.Done()
			return p.runNetworkThread(threadID)
		})
	}
	for i := uint64(0); i < opts.LocalWriterThreads; i++ {
		group.Go(p.runWriterThread)
	}
	err := group.Wait()

	// remove the dump context from the server; use a fresh client because
	// the thread-owned ones may already be disconnected
	p.finishDumpContext(p.dump.clientManager.NewClient())

	p.printBlockStats()

	if err != nil {
		return err
	}
	log.Logvf(log.Info, "all data received%v", util.ServerLabel(p.server))
	return nil
}

// receiveNextBatch fetches one batch from the dump context. A nil response
// means the server has no more batches for us.
func (p *parallelDumpServer) receiveNextBatch(c *client.Client, batchID uint64, lastBatch *uint64) (*client.Response, error) {
	path := fmt.Sprintf("/_api/dump/next/%s?batchId=%d", url.PathEscape(p.dumpID), batchID)
	if p.server != "" {
		path += "&dbserver=" + url.QueryEscape(p.server)
	}
	if lastBatch != nil {
		path += fmt.Sprintf("&lastBatch=%d", *lastBatch)
	}

	var headers map[string]string
	if p.dump.OutputOptions.UseGzipForTransport {
		headers = map[string]string{headerAcceptEncoding: encodingGzip}
	}

	resp, err := client.DoWithRetry(func() (*client.Response, error) {
		return c.Do("POST", path, nil, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("unrecoverable network error while dumping%v: %w",
			util.ServerLabel(p.server), err)
	}
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		return resp, nil
	}
	return nil, fmt.Errorf("got invalid return code %v while dumping%v",
		resp.StatusCode, util.ServerLabel(p.server))
}

// runNetworkThread pulls batches from the server until it reports
// exhaustion with a 204.
func (p *parallelDumpServer) runNetworkThread(threadID uint64) error {
	c := p.dump.clientManager.NewClient()

	var lastBatch *uint64
	for {
		batchID := p.batchCounter.Add(1) - 1
		resp, err := p.receiveNextBatch(c, batchID, lastBatch)
		if err != nil {
			p.queue.Close()
			return err
		}
		if resp == nil {
			break
		}
		p.dump.stats.TotalBatches.Add(1)
		p.dump.stats.TotalReceived.Add(uint64(len(resp.Body)))

		stopped, blocked := p.queue.Push(resp)
		if blocked {
			p.countBlocker(blockLocalQueue, 1)
		}
		if stopped {
			log.Logvf(log.DebugLow, "network thread %v stopped by stopped channel", threadID)
			return nil
		}
		id := batchID
		lastBatch = &id
	}
	log.Logvf(log.DebugLow, "%v exhausted", util.ServerLabel(p.server))
	return nil
}

// runWriterThread drains the channel into the data files, re-keying every
// batch by the shard id the server put into the response headers.
func (p *parallelDumpServer) runWriterThread() error {
	type cachedFile struct {
		file           *directory.File
		collectionName string
	}
	filesByShard := map[string]cachedFile{}
	defer func() {
		if p.fileProvider.Split() {
			// split files belong to the writer that opened them
			for _, cached := range filesByShard {
				cached.file.Close()
			}
		}
	}()

	for {
		resp, ok, blocked := p.queue.Pop()
		if !ok {
			break
		}
		if blocked {
			p.countBlocker(blockLocalQueue, -1)
		}

		shardID, found := resp.HeaderValue(headerDumpShardID)
		if !found {
			p.queue.Close()
			return fmt.Errorf("missing header field '%v' in dump response", headerDumpShardID)
		}

		// update block counts from the remote server
		if countValue, found := resp.HeaderValue(headerDumpBlockCounts); found {
			if count, err := strconv.ParseInt(countValue, 10, 64); err == nil {
				p.countBlocker(blockRemoteQueue, count)
			}
		}

		body := resp.Body
		if encoding, found := resp.HeaderValue(headerContentEncoding); found && encoding == encodingGzip {
			uncompressed, err := gunzip(body)
			if err != nil {
				p.queue.Close()
				return err
			}
			body = uncompressed
		}

		cached, found := filesByShard[shardID]
		if !found {
			info, known := p.shards[shardID]
			if !known {
				p.queue.Close()
				return fmt.Errorf("server returned an unexpected shard %v", shardID)
			}
			file, err := p.fileProvider.GetFile(info.collectionName)
			if err != nil {
				p.queue.Close()
				return err
			}
			cached = cachedFile{file: file, collectionName: info.collectionName}
			filesByShard[shardID] = cached
		}

		log.Logvf(log.DebugHigh, "writing data for shard '%v' of collection '%v' into file '%v'",
			shardID, cached.collectionName, cached.file.Path())

		if err := p.dump.writeData(cached.file, body, cached.collectionName); err != nil {
			p.queue.Close()
			return err
		}
	}
	log.Logvf(log.DebugLow, "writer completed")
	return nil
}

// countBlocker records one block observation on an axis. When the transient
// imbalance saturates at ±100, the suspected bottleneck is logged and the
// counter re-armed by the opposite amount.
func (p *parallelDumpServer) countBlocker(axis int, delta int64) {
	messages := [...]string{
		"network threads - consider increasing the number of local writer threads",
		"writer threads - consider increasing the number of local network threads",
		"dbserver workers - consider increasing the number of local network threads",
		"dbserver batch handler - consider increasing the number of dbserver worker threads",
	}

	var msg string
	switch actual := p.blockCounter[axis].Add(delta); {
	case actual >= 100:
		msg = messages[2*axis]
		p.blockCounter[axis].Add(-100)
	case actual <= -100:
		msg = messages[2*axis+1]
		p.blockCounter[axis].Add(100)
	}

	if msg != "" {
		log.Logvf(log.DebugLow, "when dumping data%v system blocking at %v",
			util.ServerLabel(p.server), msg)
	}
}

func (p *parallelDumpServer) printBlockStats() {
	log.Logvf(log.DebugLow,
		"block counter writer threads (+) / network threads (-) = %v, "+
			"dbserver worker put batch (+) / rest handler get batch (-) = %v",
		p.blockCounter[blockLocalQueue].Load(), p.blockCounter[blockRemoteQueue].Load())
}
