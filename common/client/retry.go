// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MaxRetries bounds the number of retries any single call-site performs
// before giving up on the server.
const MaxRetries = 100

// connectRetryDelay is how long we back off before retrying after a failed
// connection attempt.
const connectRetryDelay = 500 * time.Millisecond

// ShouldRetry decides whether the error of a failed exchange is transient.
// Retryable are connect/read/write transport failures, the server-side
// cluster/gateway timeouts, and HTTP 503. A failed connection attempt and a
// 503 sleep before returning so that call-sites retry at a bounded rate.
func ShouldRetry(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		switch transportErr.Kind {
		case KindCouldNotConnect:
			time.Sleep(connectRetryDelay)
			return true
		case KindWriteError, KindReadError:
			return true
		}
		return false
	}

	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		switch {
		case serverErr.ErrorNum == ErrNumClusterTimeout,
			serverErr.StatusCode == http.StatusGatewayTimeout:
			return true
		case serverErr.StatusCode == http.StatusServiceUnavailable:
			// the server is up but momentarily unable to answer; back off
			// like a failed connection attempt
			time.Sleep(connectRetryDelay)
			return true
		}
		return false
	}

	return false
}

// DoWithRetry issues request until it succeeds, its failure is classified
// as permanent, or the retry budget is exhausted. No call-site ever makes
// more than MaxRetries attempts in total.
func DoWithRetry(request func() (*Response, error)) (*Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := request()
		checked := Check(resp, err)
		if checked == nil {
			return resp, nil
		}
		if !ShouldRetry(checked) {
			return resp, checked
		}
		if attempt >= MaxRetries {
			return resp, fmt.Errorf("too many connection errors, giving up: %w", checked)
		}
	}
}
