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

package dbserver

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"docdb/pkg/wire"
)

// clientConn serializes writes back to one TCP client: the router and
// worker goroutines only ever touch a connection through this type, so
// a slow or malicious client can never corrupt another client's frame.
type clientConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func newClientConn(conn net.Conn) *clientConn {
	return &clientConn{conn: conn}
}

func (c *clientConn) writeResponse(resp wire.Response) {
	data, err := wire.Marshal(resp)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, _ = c.conn.Write(data)
}

func (c *clientConn) Close() {
	_ = c.conn.Close()
}

func unmarshalRequest(frame []byte, req *wire.Request) error {
	return json.Unmarshal(frame, req)
}

// xxhashString adapts xxhash to the hash signature go-rendezvous wants.
func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}
