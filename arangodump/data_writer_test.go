// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package arangodump

import (
	"os"
	"testing"

	velocypack "github.com/arangodb/go-velocypack"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWriteDataVPack(t *testing.T) {
	Convey("With maskings and velocypack output", t, func() {
		definition := `{
			"collections": {
				"users": {"type": "masked", "maskings": [{"path": "name", "type": "xifyFront", "unmaskedLength": 1}]}
			}
		}`
		path := t.TempDir() + "/maskings.json"
		So(os.WriteFile(path, []byte(definition), 0644), ShouldBeNil)

		dump := newTestDump(t, "http://127.0.0.1:0")
		dump.InputOptions.MaskingsFile = path
		dump.OutputOptions.UseVPack = true
		So(dump.Init(), ShouldBeNil)
		dir := openTestDirectory(t, dump)

		Convey("a velocypack array is masked element by element", func() {
			body, err := velocypack.Marshal([]interface{}{
				map[string]interface{}{"_key": "1", "name": "abc"},
				map[string]interface{}{"_key": "2", "name": "def"},
			})
			So(err, ShouldBeNil)

			file, err := dir.WritableFile("users.data.vpack", true)
			So(err, ShouldBeNil)
			So(dump.writeData(file, body, "users"), ShouldBeNil)
			So(file.Close(), ShouldBeNil)

			content, err := os.ReadFile(file.Path())
			So(err, ShouldBeNil)

			var docs []map[string]interface{}
			So(velocypack.Unmarshal(velocypack.Slice(content), &docs), ShouldBeNil)
			So(len(docs), ShouldEqual, 2)
			So(docs[0]["name"], ShouldEqual, "xxc")
			So(docs[1]["name"], ShouldEqual, "xxf")
			So(docs[0]["_key"], ShouldEqual, "1")
		})

		Convey("an empty array stays an array", func() {
			body, err := velocypack.Marshal([]interface{}{})
			So(err, ShouldBeNil)

			file, err := dir.WritableFile("empty.data.vpack", true)
			So(err, ShouldBeNil)
			So(dump.writeData(file, body, "users"), ShouldBeNil)
			So(file.Close(), ShouldBeNil)

			content, err := os.ReadFile(file.Path())
			So(err, ShouldBeNil)
			So(velocypack.Slice(content).IsArray(), ShouldBeTrue)
		})
	})
}
