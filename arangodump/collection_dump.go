// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/arangodb/arango-tools/common/client"
	"github.com/arangodb/arango-tools/common/directory"
	"github.com/arangodb/arango-tools/common/log"
	"github.com/arangodb/arango-tools/common/util"
)

// gunzip transparently uncompresses a gzip-encoded response body.
func gunzip(body []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cannot read gzip-encoded body: %v", err)
	}
	defer reader.Close()
	uncompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("cannot uncompress body: %v", err)
	}
	return uncompressed, nil
}

// dumpHeaders returns the request headers of a classical dump request.
func (dump *ArangoDump) dumpHeaders() map[string]string {
	headers := map[string]string{}
	if dump.OutputOptions.UseVPack {
		headers[headerAccept] = mimeVPack
	} else {
		headers[headerAccept] = mimeDump
	}
	if dump.OutputOptions.UseGzipForTransport {
		headers[headerAcceptEncoding] = encodingGzip
	}
	return headers
}

// validContentType checks that the response body format matches what was
// requested.
func (dump *ArangoDump) validContentType(contentType string) bool {
	if dump.OutputOptions.UseVPack {
		return contentType == mimeVPack
	}
	return strings.HasPrefix(contentType, mimeDumpNoEncoding)
}

// dumpCollection pulls the documents of one collection (or, in cluster
// mode, one shard) through the replication API and writes them to file. The
// chunk size starts at the configured initial value and grows adaptively
// with every round trip that announces more data.
func (dump *ArangoDump) dumpCollection(c *client.Client, file *directory.File, collectionName, name, server string, batchID uint64) error {
	chunkSize := dump.OutputOptions.InitialChunkSize

	baseURL := fmt.Sprintf("/_api/replication/dump?collection=%s&batchId=%d&useEnvelope=false&array=%v",
		url.QueryEscape(name), batchID, dump.OutputOptions.UseVPack)
	if dump.clusterMode {
		// we are in cluster mode, must specify the dbserver
		baseURL += "&DBserver=" + url.QueryEscape(server)
	}
	headers := dump.dumpHeaders()

	for {
		chunkSize = util.ClampUint64(chunkSize, minChunkSize, dump.OutputOptions.MaxChunkSize)
		path := fmt.Sprintf("%s&chunkSize=%d", baseURL, chunkSize)

		// count how many chunks we are fetching
		dump.stats.TotalBatches.Add(1)

		resp, err := client.DoWithRetry(func() (*client.Response, error) {
			return c.Do("GET", path, nil, headers)
		})
		if err != nil {
			log.Logvf(log.Always, "an error occurred while dumping collection '%v' via URL %v: %v",
				name, path, err)
			return err
		}

		// find out whether there are more results to fetch
		checkMoreValue, found := resp.HeaderValue(headerCheckMore)
		if !found {
			return fmt.Errorf("got invalid response from server: required header "+
				"is missing while dumping collection '%v'", name)
		}
		checkMore := checkMoreValue == "true"

		contentType, found := resp.HeaderValue(headerContentType)
		if !found || !dump.validContentType(contentType) {
			return fmt.Errorf("got invalid response from server: content-type is invalid")
		}

		body := resp.Body
		dump.stats.TotalReceived.Add(uint64(len(body)))

		log.Logvf(log.DebugHigh, "received response body of size %v, type: %v",
			len(body), datafileSuffix(dump.OutputOptions.UseVPack))

		if encoding, found := resp.HeaderValue(headerContentEncoding); found && encoding == encodingGzip {
			if body, err = gunzip(body); err != nil {
				return err
			}
		}

		if err := dump.writeData(file, body, collectionName); err != nil {
			return err
		}

		if !checkMore {
			// all done
			return nil
		}

		// more data to retrieve, adaptively increase the chunk size
		if chunkSize < dump.OutputOptions.MaxChunkSize {
			chunkSize = uint64(float64(chunkSize) * chunkSizeGrowthFactor)
			if chunkSize > dump.OutputOptions.MaxChunkSize {
				chunkSize = dump.OutputOptions.MaxChunkSize
			}
		}
	}
}
