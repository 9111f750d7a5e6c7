//go:build e2e

// Package e2e contains end-to-end tests that launch the real dbserver
// binary over a TCP socket and exercise realistic scenarios: insert,
// find, delete, and persistence across a restart.
package e2e

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"docdb/internal/dbclient"
)

type runningServer struct {
	cmd       *exec.Cmd
	addr      string
	dataDir   string
	logLinesC chan string
}

// buildAndStartServer builds the cmd/dbserver binary to a temp directory,
// launches it on a random free port against a fresh data directory, and
// waits until it logs readiness and accepts a connection.
func buildAndStartServer(t *testing.T, dataDir string, extraArgs ...string) *runningServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	addr := ln.Addr().String()
	_, port, _ := net.SplitHostPort(addr)
	_ = ln.Close()

	tmpDir := t.TempDir()
	exe := filepath.Join(tmpDir, exeName("dbserver"))
	build := exec.Command("go", "build", "-o", exe, "docdb/cmd/dbserver")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	if dataDir == "" {
		dataDir = t.TempDir()
	}
	args := []string{port, "--data-dir=" + dataDir, "--loglevel=info"}
	args = append(args, extraArgs...)

	cmd := exec.Command(exe, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("StderrPipe: %v", err)
	}

	logC := make(chan string, 1024)
	go scanLines(stdout, logC)
	go scanLines(stderr, logC)

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	waitForReady(t, logC, "dbserver listening")

	fullAddr := "127.0.0.1:" + port
	ok := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fullAddr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			ok = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !ok {
		_ = cmd.Process.Kill()
		t.Fatalf("server did not become ready (TCP dial failed)")
	}

	rs := &runningServer{cmd: cmd, addr: fullAddr, dataDir: dataDir, logLinesC: logC}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return rs
}

func scanLines(r io.ReadCloser, out chan<- string) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		out <- s.Text()
	}
}

func waitForReady(t *testing.T, logC <-chan string, marker string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case line := <-logC:
			if contains(line, marker) {
				return
			}
		case <-deadline:
			t.Fatalf("server did not log readiness marker %q in time", marker)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func exeName(base string) string {
	if os.PathSeparator == '\\' {
		return base + ".exe"
	}
	return base
}

func TestInsertFindDeleteE2E(t *testing.T) {
	rs := buildAndStartServer(t, "")
	client := dbclient.New(rs.addr, 5*time.Second)
	defer client.Close()

	doc := json.RawMessage(`{"name": "alice", "role": "admin"}`)
	insertResp, err := client.Insert("e2e_db", "users", doc)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if insertResp.Count != 1 {
		t.Fatalf("expected 1 inserted, got %d", insertResp.Count)
	}

	query := json.RawMessage(`{"name": "alice"}`)
	findResp, err := client.Find("e2e_db", "users", query, 1, 10)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(findResp.Data) != 1 {
		t.Fatalf("expected 1 match, got %d", len(findResp.Data))
	}

	delResp, err := client.Delete("e2e_db", "users", query)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if delResp.Count != 1 {
		t.Fatalf("expected 1 deleted, got %d", delResp.Count)
	}
}

func TestPersistenceAcrossRestartE2E(t *testing.T) {
	dataDir := t.TempDir()
	rs := buildAndStartServer(t, dataDir)
	client := dbclient.New(rs.addr, 5*time.Second)

	doc := json.RawMessage(`{"name": "bob"}`)
	if _, err := client.Insert("e2e_db", "users", doc); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	client.Close()
	_ = rs.cmd.Process.Kill()
	_, _ = rs.cmd.Process.Wait()

	time.Sleep(200 * time.Millisecond)

	rs2 := buildAndStartServer(t, dataDir)
	client2 := dbclient.New(rs2.addr, 5*time.Second)
	defer client2.Close()

	query := json.RawMessage(`{"name": "bob"}`)
	findResp, err := client2.Find("e2e_db", "users", query, 1, 10)
	if err != nil {
		t.Fatalf("find after restart failed: %v", err)
	}
	if len(findResp.Data) != 1 {
		t.Fatalf("expected document to survive restart, got %d matches", len(findResp.Data))
	}
}
