// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package client implements the HTTP side of the dump tools: a thin client
// over the server's replication and dump APIs, response checking, retry
// classification, batch sessions, and the task queue the tools use to fan
// work out over per-client worker threads.
package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrorKind classifies a transport failure for the retry policy.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindCouldNotConnect
	KindWriteError
	KindReadError
)

// TransportError is a failed HTTP exchange, carrying the retry
// classification of the underlying failure.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindCouldNotConnect:
		return fmt.Sprintf("could not connect to server: %v", e.Err)
	case KindWriteError:
		return fmt.Sprintf("error while writing request: %v", e.Err)
	case KindReadError:
		return fmt.Sprintf("error while reading response: %v", e.Err)
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HeaderValue looks up a response header field by name.
func (r *Response) HeaderValue(name string) (string, bool) {
	values, found := r.Header[http.CanonicalHeaderKey(name)]
	if !found || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Manager builds connected clients for the worker threads. It also owns the
// database name the tool currently operates on, so that clients created
// before a database switch keep issuing requests against the right one.
type Manager struct {
	endpoint *url.URL
	username string
	password string
	timeout  time.Duration

	mu       sync.Mutex
	database string
}

// NewManager validates the endpoint and returns a client factory for it.
func NewManager(endpoint, username, password, database string, timeout time.Duration) (*Manager, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server endpoint '%v': %v", endpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme '%v'", parsed.Scheme)
	}
	return &Manager{
		endpoint: parsed,
		username: username,
		password: password,
		database: database,
		timeout:  timeout,
	}, nil
}

// SetDatabase switches the database all subsequent requests operate on.
func (m *Manager) SetDatabase(database string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.database = database
}

// Database returns the database requests currently operate on.
func (m *Manager) Database() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.database
}

// NewClient returns a client with its own connection pool. Each worker
// thread owns one; the transport reconnects on its own after failures.
func (m *Manager) NewClient() *Client {
	transport := &http.Transport{
		// the tools handle Accept-Encoding and decompression themselves
		DisableCompression:  true,
		MaxIdleConnsPerHost: 2,
	}
	return &Client{
		manager: m,
		hc: &http.Client{
			Transport: transport,
			Timeout:   m.timeout,
		},
	}
}

// Client issues requests against one server endpoint. It is not safe for
// concurrent use; every worker thread holds its own Client.
type Client struct {
	manager *Manager
	hc      *http.Client
}

// Do issues a request against the server. path must start with a slash and
// is prefixed with the current database. The response body is read in full
// before returning. Transport failures come back as *TransportError so the
// retry policy can classify them; any HTTP status is returned as a Response.
func (c *Client) Do(method, path string, body []byte, headers map[string]string) (*Response, error) {
	u := *c.manager.endpoint
	rawPath := path
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		rawPath = path[:idx]
		u.RawQuery = path[idx+1:]
	}
	if database := c.manager.Database(); database != "" {
		u.Path = "/_db/" + url.PathEscape(database) + rawPath
	} else {
		u.Path = rawPath
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return nil, &TransportError{Kind: KindOther, Err: err}
	}
	if c.manager.username != "" {
		req.SetBasicAuth(c.manager.username, c.manager.password)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: classify(err), Err: err}
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Kind: KindReadError, Err: err}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       content,
	}, nil
}

// classify maps a net/http error to a retryable transport kind.
func classify(err error) ErrorKind {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return KindCouldNotConnect
		case "write":
			return KindWriteError
		case "read":
			return KindReadError
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindReadError
	}
	if strings.Contains(err.Error(), "connection refused") {
		return KindCouldNotConnect
	}
	return KindOther
}
