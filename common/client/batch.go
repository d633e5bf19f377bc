// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package client

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
)

// batchTTL is the time in seconds a batch stays alive on the server between
// extensions.
const batchTTL = 600

var batchBody = []byte(fmt.Sprintf(`{"ttl":%d}`, batchTTL))

// SyncIDs are the fake client and syncer ids we send to the server. The
// server keeps track of all connected replication clients by these ids.
type SyncIDs struct {
	ClientID string
	SyncerID string
}

// NewSyncIDs draws a fresh id pair. Called once per process by the
// orchestrator and threaded into every batch call.
func NewSyncIDs() SyncIDs {
	return SyncIDs{
		ClientID: strconv.FormatUint(rand.Uint64()&0x0000FFFFFFFFFFFF, 10),
		SyncerID: strconv.FormatUint(rand.Uint64(), 10),
	}
}

// StartBatch creates a batch on the server (or, with a non-empty dbserver,
// on that dbserver via the coordinator) and returns its id. The batch pins
// the server-side snapshot every subsequent dump request reads from.
func StartBatch(c *Client, ids SyncIDs, dbserver string) (uint64, error) {
	path := "/_api/replication/batch?serverId=" + ids.ClientID + "&syncerId=" + ids.SyncerID
	if dbserver != "" {
		path += "&DBserver=" + url.QueryEscape(dbserver)
	}

	resp, err := c.Do("POST", path, batchBody, nil)
	if err := Check(resp, err); err != nil {
		return 0, fmt.Errorf("an error occurred while creating dump context: %w", err)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return 0, fmt.Errorf("got malformed JSON response from server: %v", err)
	}
	id, err := strconv.ParseUint(parsed.ID, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("got invalid batch id '%v' from server", parsed.ID)
	}
	return id, nil
}

// ExtendBatch prolongs a batch to ensure we can complete our dump. The
// result is intentionally ignored; a failed extension surfaces later as an
// expired batch.
func ExtendBatch(c *Client, ids SyncIDs, dbserver string, batchID uint64) {
	path := fmt.Sprintf("/_api/replication/batch/%d?serverId=%s&syncerId=%s",
		batchID, ids.ClientID, ids.SyncerID)
	if dbserver != "" {
		path += "&DBserver=" + url.QueryEscape(dbserver)
	}
	c.Do("PUT", path, batchBody, nil)
}

// EndBatch marks our batch finished so resources can be freed on the server
// and zeroes the caller's id. Runs in deferred teardown, so failures are
// swallowed.
func EndBatch(c *Client, ids SyncIDs, dbserver string, batchID *uint64) {
	if *batchID == 0 {
		return
	}
	path := fmt.Sprintf("/_api/replication/batch/%d?serverId=%s", *batchID, ids.ClientID)
	if dbserver != "" {
		path += "&DBserver=" + url.QueryEscape(dbserver)
	}
	c.Do("DELETE", path, nil, nil)
	*batchID = 0
}
