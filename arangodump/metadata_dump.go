// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arangodb/arango-tools/common/log"
)

// oldStyleName matches names that are safe to use as part of a filename on
// every supported filesystem.
var oldStyleName = regexp.MustCompile(`^_?[a-zA-Z][a-zA-Z0-9_\-]*$`)

func isValidName(name string) bool {
	return len(name) > 0 && len(name) <= 256 && oldStyleName.MatchString(name)
}

// md5Hex is appended to data file names so that two collections whose
// escaped names collide still get distinct files.
func md5Hex(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// idValue renders the "cid" or "id" attribute of a descriptor as a string.
func idValue(parameters map[string]interface{}) string {
	for _, key := range []string{"cid", "id"} {
		switch id := parameters[key].(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatUint(uint64(id), 10)
		}
	}
	return ""
}

// escapedCollectionName returns the name a collection's files are stored
// under. Collections whose names contain special characters are stored
// under their numeric id instead, with a random name as last resort.
func escapedCollectionName(name string, parameters map[string]interface{}) string {
	if isValidName(name) {
		return name
	}
	if id := idValue(parameters); id != "" {
		return id
	}
	return uuid.NewString()
}

// escapedViewName is the analogue for view definition files.
func escapedViewName(name string, view map[string]interface{}) string {
	if isValidName(name) {
		return name
	}
	if id := idValue(view); id != "" {
		return id
	}
	return uuid.NewString()
}

// databaseDirName returns either the name of the database to be used as a
// directory name, or its id if the name is not fully supported in every OS.
func databaseDirName(databaseName, id string) string {
	if isValidName(databaseName) {
		return databaseName
	}
	return id
}

// dumpMeta is the content of a database's dump.json file.
type dumpMeta struct {
	Database            string      `json:"database"`
	CreatedAt           string      `json:"createdAt"`
	LastTickAtDumpStart string      `json:"lastTickAtDumpStart"`
	UseEnvelope         bool        `json:"useEnvelope"`
	UseVPack            bool        `json:"useVPack"`
	Properties          interface{} `json:"properties,omitempty"`
}

// storeDumpJson writes the database meta file into the current output
// directory.
func (dump *ArangoDump) storeDumpJson(body map[string]interface{}, dbName string) error {
	tick, _ := body["tick"].(string)
	if tick == "" {
		return fmt.Errorf("got malformed JSON response from server: inventory has no tick")
	}
	log.Logvf(log.Info, "last tick provided by server is: %v", tick)

	meta := dumpMeta{
		Database:            dbName,
		CreatedAt:           time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		LastTickAtDumpStart: tick,
		UseEnvelope:         false,
		UseVPack:            dump.OutputOptions.UseVPack,
		Properties:          body["properties"],
	}
	content, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cannot serialize database meta: %v", err)
	}

	file, err := dump.directory.WritableFile("dump.json", false)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(content); err != nil {
		return err
	}
	return nil
}

// storeViews writes one .view.json file per non-empty-named view.
func (dump *ArangoDump) storeViews(views []interface{}) error {
	for _, raw := range views {
		view, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := view["name"].(string)
		if name == "" {
			continue // ignore
		}

		content, err := json.Marshal(view)
		if err != nil {
			return fmt.Errorf("cannot serialize view '%v': %v", name, err)
		}
		file, err := dump.directory.WritableFile(escapedViewName(name, view)+".view.json", false)
		if err != nil {
			return err
		}
		if _, err := file.Write(content); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}
	return nil
}

// writeStructureFile stores a collection's definition, with the server-side
// parameters.shadowCollections attribute stripped.
func (dump *ArangoDump) writeStructureFile(collectionInfo map[string]interface{}, escapedName string) error {
	stripped := make(map[string]interface{}, len(collectionInfo))
	for key, value := range collectionInfo {
		stripped[key] = value
	}
	if parameters, ok := collectionInfo["parameters"].(map[string]interface{}); ok {
		cleaned := make(map[string]interface{}, len(parameters))
		for key, value := range parameters {
			if key == "shadowCollections" {
				continue
			}
			cleaned[key] = value
		}
		stripped["parameters"] = cleaned
	}

	content, err := json.Marshal(stripped)
	if err != nil {
		return fmt.Errorf("cannot serialize collection definition: %v", err)
	}

	file, err := dump.directory.WritableFile(escapedName+".structure.json", false)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(content); err != nil {
		return err
	}
	return nil
}
