// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arangodb/arango-tools/common/client"
	"github.com/arangodb/arango-tools/common/directory"
	"github.com/arangodb/arango-tools/common/log"
)

// errMalformedResponse is the generic error for bad/unexpected server JSON.
var errMalformedResponse = errors.New("got malformed JSON response from server")

// hiddenEnterprisePrefixes mark collections that a full dump recreates
// through their graph definitions; dumping them directly is almost always a
// mistake.
var hiddenEnterprisePrefixes = []string{"_local_", "_from_", "_to_"}

func (dump *ArangoDump) isIgnoredHiddenEnterpriseCollection(name string) bool {
	if dump.InputOptions.Force {
		return false
	}
	for _, prefix := range hiddenEnterprisePrefixes {
		if strings.HasPrefix(name, prefix) {
			log.Logvf(log.Info, "dump is ignoring collection '%v'. It will be created "+
				"via graph definitions of a full dump. If you want to dump this "+
				"collection anyway, use '--force'.", name)
			return true
		}
	}
	return false
}

// shardIncluded checks a shard id against the --shard restriction.
func (dump *ArangoDump) shardIncluded(shard string) bool {
	if len(dump.InputOptions.Shards) == 0 {
		return true
	}
	for _, included := range dump.InputOptions.Shards {
		if included == shard {
			return true
		}
	}
	return false
}

// getDatabases returns the databases the current user may dump, sorted by
// name with _system first.
func (dump *ArangoDump) getDatabases(c *client.Client) ([]string, error) {
	resp, err := c.Do("GET", "/_api/database/user", nil, nil)
	if err := client.Check(resp, err); err != nil {
		return nil, fmt.Errorf("an error occurred while trying to determine list of databases: %w", err)
	}

	var parsed struct {
		Result []string `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, errMalformedResponse
	}
	databases := parsed.Result
	sort.Slice(databases, func(i, j int) bool {
		if databases[i] == systemDatabase {
			return databases[j] != systemDatabase
		}
		if databases[j] == systemDatabase {
			return false
		}
		return databases[i] < databases[j]
	})
	return databases, nil
}

// runSingleDump dumps one database of a single server. The inventory and
// all collection pulls share one batch, so the whole database is read from
// a consistent snapshot.
func (dump *ArangoDump) runSingleDump(c *client.Client, dbName string) error {
	batchID, err := client.StartBatch(c, dump.syncIDs, "")
	if err != nil {
		return err
	}
	defer client.EndBatch(c, dump.syncIDs, "", &batchID)

	includeSystem := dump.InputOptions.IncludeSystemCollections
	path := fmt.Sprintf("/_api/replication/inventory?includeSystem=%v&includeFoxxQueues=%v&batchId=%d",
		includeSystem, includeSystem, batchID)
	return dump.runDump(c, path, dbName, batchID)
}

// runClusterDump dumps one database through a cluster coordinator. Batches
// are opened per dbserver by the individual shard jobs.
func (dump *ArangoDump) runClusterDump(c *client.Client, dbName string) error {
	path := fmt.Sprintf("/_api/replication/clusterInventory?includeSystem=%v",
		dump.InputOptions.IncludeSystemCollections)
	return dump.runDump(c, path, dbName, 0)
}

// runDump fetches the inventory, writes the database meta files, and fans
// the selected collections out as jobs.
func (dump *ArangoDump) runDump(c *client.Client, inventoryPath, dbName string, batchID uint64) error {
	resp, err := c.Do("GET", inventoryPath, nil, nil)
	if err := client.Check(resp, err); err != nil {
		return fmt.Errorf("an error occurred while fetching inventory: %w", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return errMalformedResponse
	}

	if dump.InputOptions.AllDatabases {
		properties, _ := body["properties"].(map[string]interface{})
		dbID, _ := properties["id"].(string)
		log.Logvf(log.Always, "Dumping database '%v' (%v)", dbName, dbID)

		dbDirectory, err := directory.New(
			filepath.Join(dump.OutputOptions.OutputPath, databaseDirName(dbName, dbID)),
			dump.OutputOptions.Overwrite, dump.OutputOptions.UseGzipForStorage)
		if err != nil {
			log.Logvf(log.Always, "%v", err)
			return err
		}
		dump.directory = dbDirectory
	}

	collections, ok := body["collections"].([]interface{})
	if !ok {
		return errMalformedResponse
	}
	views, _ := body["views"].([]interface{})

	// Step 1. store database properties file
	if err := dump.storeDumpJson(body, dbName); err != nil {
		return err
	}

	// Step 2. store view definition files
	if dump.InputOptions.GetDumpViews() {
		if err := dump.storeViews(views); err != nil {
			return err
		}
	}

	// restrictList contains all collections the user has requested (can be
	// empty); filtering below fills in the descriptors of the matches
	restrictList := make(map[string]map[string]interface{})
	for _, name := range dump.InputOptions.Collections {
		restrictList[name] = nil
	}

	// Step 3. iterate over collections
	for _, raw := range collections {
		info, ok := raw.(map[string]interface{})
		if !ok {
			return errMalformedResponse
		}
		parameters, ok := info["parameters"].(map[string]interface{})
		if !ok {
			return errMalformedResponse
		}

		cid := idValue(parameters)
		name, _ := parameters["name"].(string)
		deleted, _ := parameters["deleted"].(bool)

		if cid == "" || name == "" {
			return errMalformedResponse
		}
		if deleted {
			continue
		}
		if strings.HasPrefix(name, "_") && !dump.InputOptions.IncludeSystemCollections {
			// exclude system collections
			continue
		}

		// filter by specified names
		if len(dump.InputOptions.Collections) > 0 {
			if _, requested := restrictList[name]; !requested {
				continue
			}
		}

		if dump.isIgnoredHiddenEnterpriseCollection(name) {
			continue
		}

		// verify distributeShardsLike info
		if !dump.InputOptions.IgnoreDistributeShardsLikeErrors && len(dump.InputOptions.Collections) > 0 {
			prototype, _ := parameters["distributeShardsLike"].(string)
			if prototype != "" {
				if _, included := restrictList[prototype]; !included {
					return fmt.Errorf("collection %v's shard distribution is based on that of "+
						"collection %v, which is not dumped along. You may dump the collection "+
						"regardless of the missing prototype collection by using the "+
						"--ignore-distribute-shards-like-errors parameter", name, prototype)
				}
			}
		}

		restrictList[name] = info
	}

	// now check if at least one of the specified collections was found
	if len(dump.InputOptions.Collections) > 0 {
		anyFound := false
		for _, info := range restrictList {
			if info != nil {
				anyFound = true
				break
			}
		}
		if !anyFound {
			return fmt.Errorf("none of the requested collections were found in the database")
		}
	}

	names := make([]string, 0, len(restrictList))
	for name := range restrictList {
		names = append(names, name)
	}
	sort.Strings(names)

	shardsByServer := make(map[string]map[string]shardInfo)
	for _, name := range names {
		info := restrictList[name]
		if info == nil {
			log.Logvf(log.Always, "requested collection '%v' not found in database", name)
			continue
		}

		if dump.OutputOptions.UseParallelDump {
			if err := dump.collectShards(shardsByServer, name, info); err != nil {
				return err
			}
		}

		// queue job to actually dump the collection
		dump.taskQueue.QueueJob(&dumpCollectionJob{
			dump:           dump,
			collectionInfo: info,
			collectionName: name,
			batchID:        batchID,
		})
	}

	var fileProvider *dumpFileProvider
	if dump.OutputOptions.UseParallelDump {
		fileProvider, err = newDumpFileProvider(dump.directory, restrictList,
			dump.OutputOptions.SplitFiles, dump.OutputOptions.UseVPack)
		if err != nil {
			return err
		}

		// one pipeline job per dbserver
		servers := make([]string, 0, len(shardsByServer))
		for server := range shardsByServer {
			servers = append(servers, server)
		}
		sort.Strings(servers)
		for _, server := range servers {
			dump.taskQueue.QueueJob(newParallelDumpServer(dump, fileProvider, shardsByServer[server], server))
		}
	}

	// wait for all jobs to finish, then check for errors
	dump.taskQueue.WaitForIdle()
	if fileProvider != nil {
		if err := fileProvider.Close(); err != nil {
			return err
		}
	}
	return dump.takeFirstWorkerError()
}

// collectShards records which dbserver holds which of the collection's
// shards. On a single server all "shards" live on the one server we are
// connected to, keyed by the collection name itself.
func (dump *ArangoDump) collectShards(shardsByServer map[string]map[string]shardInfo, name string, info map[string]interface{}) error {
	addShard := func(server, shard string) {
		if shardsByServer[server] == nil {
			shardsByServer[server] = make(map[string]shardInfo)
		}
		shardsByServer[server][shard] = shardInfo{collectionName: name}
	}

	if !dump.clusterMode {
		addShard("", name)
		return nil
	}

	shards, _ := collectionParameters(info)["shards"].(map[string]interface{})
	for shard, rawServers := range shards {
		if !dump.shardIncluded(shard) {
			continue
		}
		servers, _ := rawServers.([]interface{})
		if len(servers) == 0 {
			return fmt.Errorf("unexpected value for 'shards' attribute")
		}
		server, ok := servers[0].(string)
		if !ok || server == "" {
			return fmt.Errorf("unexpected value for 'shards' attribute")
		}
		addShard(server, shard)
	}
	return nil
}

// detectServerRole asks the server for its role and derives whether we talk
// to a cluster coordinator.
func (dump *ArangoDump) detectServerRole(c *client.Client) error {
	resp, err := c.Do("GET", "/_admin/server/role", nil, nil)
	if err := client.Check(resp, err); err != nil {
		return fmt.Errorf("could not detect instance type: %w", err)
	}
	var parsed struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return errMalformedResponse
	}

	dump.clusterMode = parsed.Role == "COORDINATOR"
	if parsed.Role == "PRIMARY" {
		log.Logvf(log.Always, "you connected to a DBServer node, but operations in a cluster "+
			"should be carried out via a Coordinator. This is an unsupported operation!")
	}
	return nil
}
