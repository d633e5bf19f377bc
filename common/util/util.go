// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package util provides helpers shared by all of the arango tools.
package util

import (
	"errors"
	"fmt"
)

const (
	ExitError      int = 1
	ExitClean      int = 0
	ExitBadOptions int = 3
	ExitKill       int = 4
	// Go reserves exit code 2 for its own use
)

var (
	ErrTerminated = errors.New("received termination signal")
)

// Pluralize takes an amount and two strings denoting the singular
// and plural noun the amount represents. If the amount is singular,
// the singular form is returned; otherwise plural is returned.
func Pluralize(amount int, singular, plural string) string {
	if amount == 1 {
		return singular
	}
	return plural
}

// ClampUint64 limits value to the inclusive range [min, max].
func ClampUint64(value, min, max uint64) uint64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// ServerLabel renders a dbserver id for log messages. An empty id denotes
// the single server we are connected to.
func ServerLabel(server string) string {
	if server == "" {
		return " on server"
	}
	return fmt.Sprintf(" on server '%v'", server)
}
