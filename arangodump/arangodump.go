// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package arangodump exports the contents of a running server into a
// restore-compatible directory of structure, view, and data files.
package arangodump

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/arangodb/arango-tools/common/client"
	"github.com/arangodb/arango-tools/common/directory"
	"github.com/arangodb/arango-tools/common/log"
	"github.com/arangodb/arango-tools/common/maskings"
	"github.com/arangodb/arango-tools/common/options"
	"github.com/arangodb/arango-tools/common/text"
	"github.com/arangodb/arango-tools/common/util"
)

const (
	// minimum amount of data to fetch from the server in a single batch
	minChunkSize = 1024 * 128

	// maximum amount of data to fetch from the server in a single batch;
	// larger values may cause tcp issues
	maxChunkSize = 1024 * 1024 * 96

	chunkSizeGrowthFactor = 1.5

	systemDatabase = "_system"
)

// ArangoDump is a container for the user-specified options and internal
// state used for running arangodump.
type ArangoDump struct {
	// basic tool options
	ToolOptions   *options.ToolOptions
	InputOptions  *InputOptions
	OutputOptions *OutputOptions

	// useful internals that we don't directly expose as options
	clientManager *client.Manager
	taskQueue     *client.TaskQueue
	maskings      *maskings.Maskings
	directory     *directory.Directory
	syncIDs       client.SyncIDs
	clusterMode   bool
	stats         Stats

	workerErrorsLock sync.Mutex
	workerErrors     []error
}

// ValidateOptions checks for any incompatible sets of options and clamps
// numeric options to their allowed ranges.
func (dump *ArangoDump) ValidateOptions() error {
	in, out := dump.InputOptions, dump.OutputOptions

	switch {
	case out.SplitFiles && !out.UseParallelDump:
		return fmt.Errorf("--split-files is only available when using --parallel-dump")
	case in.AllDatabases && dump.ToolOptions.Connection.Database != systemDatabase:
		return fmt.Errorf("cannot use --server.database and --all-databases at the same time")
	}

	if out.OutputPath == "" {
		out.OutputPath = "dump"
	}
	out.OutputPath = strings.TrimRight(out.OutputPath, string(os.PathSeparator))
	if out.OutputPath == "" {
		out.OutputPath = string(os.PathSeparator)
	}

	if out.Threads <= 0 {
		out.Threads = runtime.NumCPU()
	}
	if capped := 4 * runtime.NumCPU(); out.Threads > capped {
		log.Logvf(log.Always, "capping --threads value to %v", capped)
		out.Threads = capped
	}

	// clamp chunk values to allowed ranges
	out.InitialChunkSize = util.ClampUint64(out.InitialChunkSize, minChunkSize, maxChunkSize)
	out.MaxChunkSize = util.ClampUint64(out.MaxChunkSize, out.InitialChunkSize, maxChunkSize)

	if out.LocalWriterThreads == 0 {
		out.LocalWriterThreads = 1
	}
	if out.LocalNetworkThreads == 0 {
		out.LocalNetworkThreads = 1
	}

	return nil
}

// Init performs preliminary setup operations for ArangoDump.
func (dump *ArangoDump) Init() error {
	log.Logvf(log.DebugHigh, "initializing arangodump object")

	if err := dump.ValidateOptions(); err != nil {
		return fmt.Errorf("bad option: %v", err)
	}

	if dump.InputOptions.MaskingsFile != "" {
		parsed, err := maskings.FromFile(dump.InputOptions.MaskingsFile)
		if err != nil {
			return fmt.Errorf("in maskings file '%v': %v", dump.InputOptions.MaskingsFile, err)
		}
		dump.maskings = parsed
	}

	// generate the fake client and syncer ids that we send to the server
	dump.syncIDs = client.NewSyncIDs()

	manager, err := client.NewManager(
		dump.ToolOptions.Connection.Endpoint,
		dump.ToolOptions.Auth.Username,
		dump.ToolOptions.Auth.Password,
		dump.ToolOptions.Connection.Database,
		0)
	if err != nil {
		return err
	}
	dump.clientManager = manager
	dump.taskQueue = client.NewTaskQueue(dump.processJob)

	return nil
}

// Dump executes the dump: detect the server type, fan the databases out,
// and report a summary.
func (dump *ArangoDump) Dump() error {
	start := time.Now()

	// set up the output directory, not much else
	root, err := directory.New(dump.OutputOptions.OutputPath, dump.OutputOptions.Overwrite,
		dump.OutputOptions.UseGzipForStorage)
	if err != nil {
		if errors.Is(err, directory.ErrNotEmpty) {
			return fmt.Errorf("output directory '%v' already exists. use \"--overwrite\" "+
				"to overwrite data in it", dump.OutputOptions.OutputPath)
		}
		return err
	}
	dump.directory = root

	c := dump.clientManager.NewClient()

	// check if we are in cluster or single-server mode
	if err := dump.detectServerRole(c); err != nil {
		return err
	}

	// set up threads and workers
	dump.taskQueue.SpawnWorkers(dump.clientManager, dump.OutputOptions.Threads)
	defer dump.taskQueue.Stop()

	if dump.OutputOptions.GetProgress() {
		log.Logvf(log.Always, "Connected to server '%v', database: '%v', username: '%v'",
			dump.ToolOptions.Connection.Endpoint, dump.ToolOptions.Connection.Database,
			dump.ToolOptions.Auth.Username)
		log.Logvf(log.Always, "Writing dump to output directory '%v' with %v thread(s)",
			dump.directory.Path(), dump.OutputOptions.Threads)
	}

	// if any of the specified collections is a system collection, we
	// auto-enable --include-system-collections for the user
	for _, name := range dump.InputOptions.Collections {
		if strings.HasPrefix(name, "_") {
			dump.InputOptions.IncludeSystemCollections = true
			break
		}
	}

	var databases []string
	if dump.InputOptions.AllDatabases {
		databases, err = dump.getDatabases(c)
		if err != nil {
			return err
		}
	} else {
		databases = []string{dump.ToolOptions.Connection.Database}
	}

	var firstErr error
	for _, db := range databases {
		if dump.InputOptions.AllDatabases {
			dump.clientManager.SetDatabase(db)
		}

		if dump.clusterMode {
			err = dump.runClusterDump(c, db)
		} else {
			err = dump.runSingleDump(c, db)
		}
		if err != nil {
			log.Logvf(log.Always, "An error occurred: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			if !dump.InputOptions.Force {
				break
			}
		}
	}

	if dump.OutputOptions.GetProgress() {
		dump.logSummary(time.Since(start), len(databases))
	}

	return firstErr
}

// logSummary prints the end-of-run totals.
func (dump *ArangoDump) logSummary(elapsed time.Duration, databaseCount int) {
	var totalSize int64
	filepath.WalkDir(dump.OutputOptions.OutputPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if info, err := entry.Info(); err == nil {
			totalSize += info.Size()
		}
		return nil
	})

	collections := dump.stats.TotalCollections.Load()
	if dump.InputOptions.GetDumpData() {
		log.Logvf(log.Always, "Processed %v %v from %v %v in %.2f s total time. "+
			"Retrieved %v from server, sent %v %v in total. Total written to disk "+
			"(before compression): %v. Size of dump directory on disk (after compression): %v",
			collections, util.Pluralize(int(collections), "collection", "collections"),
			databaseCount, util.Pluralize(databaseCount, "database", "databases"),
			elapsed.Seconds(),
			text.FormatByteAmount(int64(dump.stats.TotalReceived.Load())),
			dump.stats.TotalBatches.Load(),
			util.Pluralize(int(dump.stats.TotalBatches.Load()), "batch", "batches"),
			text.FormatByteAmount(int64(dump.stats.TotalWritten.Load())),
			text.FormatByteAmount(totalSize))
	} else {
		log.Logvf(log.Always, "Processed %v %v from %v %v in %.2f s total time. "+
			"Size of dump directory on disk: %v",
			collections, util.Pluralize(int(collections), "collection", "collections"),
			databaseCount, util.Pluralize(databaseCount, "database", "databases"),
			elapsed.Seconds(), text.FormatByteAmount(totalSize))
	}
}

// processJob runs one job on behalf of a worker thread.
func (dump *ArangoDump) processJob(c *client.Client, job client.Job) {
	defer func() {
		if recovered := recover(); recovered != nil {
			dump.reportError(fmt.Errorf("worker panic: %v", recovered))
		}
	}()
	if err := job.Run(c); err != nil {
		dump.reportError(err)
	}
}

// reportError records a worker error and clears the remaining queue so that
// outstanding jobs return promptly.
func (dump *ArangoDump) reportError(err error) {
	dump.workerErrorsLock.Lock()
	dump.workerErrors = append(dump.workerErrors, err)
	dump.workerErrorsLock.Unlock()
	dump.taskQueue.ClearQueue()
}

// takeFirstWorkerError returns the first error workers reported for the
// current database and resets the list for the next one.
func (dump *ArangoDump) takeFirstWorkerError() error {
	dump.workerErrorsLock.Lock()
	defer dump.workerErrorsLock.Unlock()
	if len(dump.workerErrors) == 0 {
		return nil
	}
	first := dump.workerErrors[0]
	dump.workerErrors = nil
	return first
}

// Stats exposes the run counters, mainly for tests and the summary.
func (dump *ArangoDump) Stats() *Stats {
	return &dump.stats
}

// HandleInterrupt aborts outstanding work after the first termination
// signal: it records util.ErrTerminated and drops all jobs that have not
// started yet. Jobs already running are not interrupted and run to
// completion.
func (dump *ArangoDump) HandleInterrupt() {
	if dump.taskQueue != nil {
		dump.reportError(util.ErrTerminated)
	}
}
