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
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgryski/go-rendezvous"
	"github.com/rs/zerolog"

	"docdb/pkg/wire"
)

// job is one decoded request awaiting dispatch, paired with the
// connection it arrived on so the worker can write the response back.
type job struct {
	req  *wire.Request
	conn *clientConn
}

const (
	readTimeout   = 30 * time.Second
	writeTimeout  = 30 * time.Second
	acceptTimeout = 1 * time.Second
)

// Server is the connection manager described by SPEC_FULL.md §4.5: it
// accepts TCP connections, frames requests off the wire, and routes
// them through a bounded queue to a pool of dispatch workers. The
// accept-loop / background-worker split and the Start/Stop lifecycle
// mirror the teacher's core.Worker and cmd/ratelimiter-api/main.go.
type Server struct {
	addr       string
	numWorkers int
	dispatcher *Dispatcher
	metrics    *Metrics
	log        zerolog.Logger

	listener net.Listener
	queue    chan job
	rend     *rendezvous.Rendezvous
	workerCh []chan job
	workerOf map[string]int

	connsMu sync.Mutex
	conns   map[*clientConn]struct{}

	wg       sync.WaitGroup
	readerWG sync.WaitGroup
	stopCh   chan struct{}
	stopped  uint32
}

// NewServer builds a Server listening on addr with numWorkers dispatch
// goroutines. The bounded queue capacity follows SPEC_FULL.md §4.5/§9:
// max(16, 2*numWorkers).
func NewServer(addr string, numWorkers int, dispatcher *Dispatcher, metrics *Metrics, log zerolog.Logger) *Server {
	if numWorkers < 1 {
		numWorkers = 1
	}
	capacity := 2 * numWorkers
	if capacity < 16 {
		capacity = 16
	}

	names := make([]string, numWorkers)
	workerCh := make([]chan job, numWorkers)
	workerOf := make(map[string]int, numWorkers)
	for i := range workerCh {
		name := workerName(i)
		names[i] = name
		workerOf[name] = i
		workerCh[i] = make(chan job, capacity/numWorkers+1)
	}

	return &Server{
		addr:       addr,
		numWorkers: numWorkers,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log,
		queue:      make(chan job, capacity),
		rend:       rendezvous.New(names, xxhashString),
		workerCh:   workerCh,
		workerOf:   workerOf,
		conns:      make(map[*clientConn]struct{}),
		stopCh:     make(chan struct{}),
	}
}

func workerName(i int) string {
	return "worker-" + strconv.Itoa(i)
}

// ListenAndServe opens the listener and blocks, accepting connections
// until Stop is called. It returns nil on a clean shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info().Str("addr", s.addr).Int("workers", s.numWorkers).Msg("dbserver listening")

	s.wg.Add(len(s.workerCh))
	for i, ch := range s.workerCh {
		i, ch := i, ch
		go func() {
			defer s.wg.Done()
			s.runWorker(i, ch)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRouter()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	<-s.stopCh
	s.wg.Wait()
	return nil
}

// Stop closes the listener, forces every open connection's reader to
// unblock, and only then closes the shared queue. Closing the queue
// before every reader has stopped sending would race a reader's
// `case s.queue <- j` against the close and could panic; readerWG.Wait
// guarantees no enqueueFrame call is still in flight once we close it.
// Safe to call more than once.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.closeAllConns()
	s.readerWG.Wait()
	close(s.queue)
}

func (s *Server) trackConn(cc *clientConn) {
	s.connsMu.Lock()
	s.conns[cc] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(cc *clientConn) {
	s.connsMu.Lock()
	delete(s.conns, cc)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for cc := range s.conns {
		cc.Close()
	}
}

func (s *Server) acceptLoop() {
	tcpLn, _ := s.listener.(*net.TCPListener)
	for {
		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		if s.metrics != nil {
			s.metrics.connOpened()
		}
		cc := newClientConn(conn)
		s.trackConn(cc)
		s.readerWG.Add(1)
		go func() {
			defer s.readerWG.Done()
			s.readConn(cc)
		}()
	}
}

// readConn frames requests off one connection and enqueues them. It
// applies the bounded-queue backpressure policy from SPEC_FULL.md
// §4.5/§9: a full queue blocks briefly, and a request that still can't
// be admitted gets an immediate error response rather than stalling
// the reader indefinitely.
func (s *Server) readConn(cc *clientConn) {
	defer func() {
		cc.Close()
		s.untrackConn(cc)
		if s.metrics != nil {
			s.metrics.connClosed()
		}
	}()

	scanner := wire.NewFrameScanner()
	buf := make([]byte, 64*1024)
	for {
		_ = cc.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := cc.conn.Read(buf)
		if n > 0 {
			frames := scanner.Feed(buf[:n])
			for _, frame := range frames {
				s.enqueueFrame(cc, frame)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) enqueueFrame(cc *clientConn, frame []byte) {
	req, err := decodeRequest(frame)
	if err != nil {
		cc.writeResponse(wire.Error("malformed request: " + err.Error()))
		return
	}

	j := job{req: req, conn: cc}
	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()
	select {
	case s.queue <- j:
	case <-timer.C:
		cc.writeResponse(wire.Error("server busy, request queue full"))
	case <-s.stopCh:
		cc.writeResponse(wire.Error("server shutting down"))
	}
}

// runRouter pulls from the shared queue and fans each job out to the
// rendezvous-selected worker channel for its database, so every
// request for a given database is always handled in submission order
// by the same goroutine.
func (s *Server) runRouter() {
	defer func() {
		for _, ch := range s.workerCh {
			close(ch)
		}
	}()
	for j := range s.queue {
		if s.metrics != nil {
			s.metrics.queueGauge(len(s.queue))
		}
		idx := s.workerIndex(j.req.Database)
		select {
		case s.workerCh[idx] <- j:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) workerIndex(database string) int {
	return s.workerOf[s.rend.Lookup(database)]
}

func (s *Server) runWorker(_ int, ch chan job) {
	for j := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resp := s.dispatcher.Dispatch(ctx, j.req)
		cancel()
		j.conn.writeResponse(resp)
	}
}

func decodeRequest(frame []byte) (*wire.Request, error) {
	var req wire.Request
	if err := unmarshalRequest(frame, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
