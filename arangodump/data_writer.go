// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"bytes"
	"encoding/json"
	"fmt"

	velocypack "github.com/arangodb/go-velocypack"

	"github.com/arangodb/arango-tools/common/directory"
)

// writeData hands one response body to the output file. Without maskings
// the body is written verbatim. With maskings the body is parsed as either
// a velocypack array or a newline-delimited object stream, every document
// runs through the masking rules, and the result is emitted in the
// configured output format.
func (dump *ArangoDump) writeData(file *directory.File, body []byte, collectionName string) error {
	if dump.maskings == nil {
		n, err := file.Write(body)
		if err != nil {
			return fmt.Errorf("cannot write file '%v': %v", file.Path(), err)
		}
		dump.stats.TotalWritten.Add(uint64(n))
		return nil
	}

	var out []byte
	var err error
	if dump.OutputOptions.UseVPack {
		out, err = dump.maskVPackArray(body, collectionName)
	} else {
		out, err = dump.maskJSONLines(body, collectionName)
	}
	if err != nil {
		return fmt.Errorf("error masking data for collection '%v': %v", collectionName, err)
	}

	n, err := file.Write(out)
	if err != nil {
		return fmt.Errorf("cannot write file '%v': %v", file.Path(), err)
	}
	dump.stats.TotalWritten.Add(uint64(n))
	return nil
}

func (dump *ArangoDump) maskVPackArray(body []byte, collectionName string) ([]byte, error) {
	it, err := velocypack.NewArrayIterator(velocypack.Slice(body))
	if err != nil {
		return nil, err
	}

	masked := make([]interface{}, 0)
	for it.IsValid() {
		value, err := it.Value()
		if err != nil {
			return nil, err
		}
		var doc map[string]interface{}
		if err := velocypack.Unmarshal(value, &doc); err != nil {
			return nil, err
		}
		masked = append(masked, dump.maskings.Mask(collectionName, doc))
		if err := it.Next(); err != nil {
			return nil, err
		}
	}

	out, err := velocypack.Marshal(masked)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (dump *ArangoDump) maskJSONLines(body []byte, collectionName string) ([]byte, error) {
	var out bytes.Buffer
	for _, line := range bytes.Split(body, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, err
		}
		masked, err := json.Marshal(dump.maskings.Mask(collectionName, doc))
		if err != nil {
			return nil, err
		}
		out.Write(masked)
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}
