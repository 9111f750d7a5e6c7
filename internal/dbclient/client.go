// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbclient implements the blocking, single-connection client
// described by SPEC_FULL.md §4.10 (C10). One Client owns one TCP
// connection and serializes requests on it; callers wanting
// concurrency should use a pool of Clients, mirroring the
// Logging/Real adapter split the teacher uses for its Redis and Kafka
// clients in persistence/clients.go.
package dbclient

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"docdb/pkg/wire"
)

// Client holds one connection to a dbserver instance.
type Client struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
	scanner *wire.FrameScanner
}

// New builds a Client that dials addr lazily on the first request.
func New(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("dbclient: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.scanner = wire.NewFrameScanner()
	return nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.scanner = nil
	return err
}

// Insert sends an insert request for one or more JSON documents.
func (c *Client) Insert(database, collection string, docs ...json.RawMessage) (wire.Response, error) {
	return c.send(&wire.Request{
		Database:   database,
		Operation:  wire.OpInsert,
		Collection: collection,
		Data:       docs,
	})
}

// Find sends a find request. query may be nil to match every document.
func (c *Client) Find(database, collection string, query json.RawMessage, page, limit int) (wire.Response, error) {
	return c.send(&wire.Request{
		Database:   database,
		Operation:  wire.OpFind,
		Collection: collection,
		Query:      query,
		Page:       page,
		Limit:      limit,
	})
}

// Delete sends a delete request for every document matching query.
func (c *Client) Delete(database, collection string, query json.RawMessage) (wire.Response, error) {
	return c.send(&wire.Request{
		Database:   database,
		Operation:  wire.OpDelete,
		Collection: collection,
		Query:      query,
	})
}

// send writes req fully (retrying partial writes) and blocks for
// exactly one complete response frame. Connection-level failures
// return a locally-constructed error Response together with the Go
// error, so callers can treat every call uniformly as
// (Response, transportErr) and only worry about transportErr when
// they need to decide whether to retry the connection itself.
func (c *Client) send(req *wire.Request) (wire.Response, error) {
	if err := c.ensureConn(); err != nil {
		return wire.Error(err.Error()), err
	}

	payload, err := wire.Marshal(req)
	if err != nil {
		return wire.Error(err.Error()), err
	}

	if err := c.writeFully(payload); err != nil {
		c.Close()
		return wire.Error(err.Error()), err
	}

	resp, err := c.readFrame()
	if err != nil {
		c.Close()
		return wire.Error(err.Error()), err
	}
	return resp, nil
}

func (c *Client) writeFully(payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	written := 0
	for written < len(payload) {
		n, err := c.conn.Write(payload[written:])
		if err != nil {
			return fmt.Errorf("dbclient: write: %w", err)
		}
		written += n
	}
	return nil
}

func (c *Client) readFrame() (wire.Response, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames := c.scanner.Feed(buf[:n])
			if len(frames) > 0 {
				var resp wire.Response
				if uerr := json.Unmarshal(frames[0], &resp); uerr != nil {
					return wire.Response{}, fmt.Errorf("dbclient: decode response: %w", uerr)
				}
				return resp, nil
			}
		}
		if err != nil {
			return wire.Response{}, fmt.Errorf("dbclient: read: %w", err)
		}
	}
}
