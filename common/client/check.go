// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package client

import (
	"encoding/json"
	"fmt"
)

// Well-known server error numbers used by the retry policy.
const (
	ErrNumClusterTimeout = 1457
)

// ServerError is an error envelope returned by the server, or a bare
// non-2xx status when the body carried no envelope.
type ServerError struct {
	StatusCode int
	ErrorNum   int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("got error from server: HTTP %v (errorNum %v): %v",
			e.StatusCode, e.ErrorNum, e.Message)
	}
	return fmt.Sprintf("got unexpected HTTP %v from server", e.StatusCode)
}

type errorEnvelope struct {
	Error        bool   `json:"error"`
	ErrorNum     int    `json:"errorNum"`
	ErrorMessage string `json:"errorMessage"`
}

// Check folds a (response, transport error) pair into a single error. It
// passes transport errors through untouched and converts non-2xx responses
// into a *ServerError, decoding the server's error envelope when present.
func Check(resp *Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	serverErr := &ServerError{StatusCode: resp.StatusCode}
	var envelope errorEnvelope
	if jsonErr := json.Unmarshal(resp.Body, &envelope); jsonErr == nil && envelope.Error {
		serverErr.ErrorNum = envelope.ErrorNum
		serverErr.Message = envelope.ErrorMessage
	}
	return serverErr
}
