// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package text provides text formatting helpers for tool output.
package text

import (
	"fmt"
)

// FormatByteAmount takes an int64 representing a size in bytes and
// returns a formatted string of a minimum amount of significant figures.
func FormatByteAmount(size int64) string {
	result := float64(size) / 1024
	unit := "KB"
	for _, next := range []string{"MB", "GB", "TB"} {
		if result < 1024 {
			break
		}
		unit = next
		result = result / 1024
	}
	return fmt.Sprintf("%.1f %v", result, unit)
}
