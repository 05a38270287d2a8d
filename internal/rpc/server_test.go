package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/kilnd/internal/testutil"
)

func startServer(t *testing.T) (dial func() net.Conn, runErr chan error, cancel context.CancelFunc) {
	t.Helper()

	manager := testutil.NewManager(t)

	socket := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(socket, manager, testutil.Logger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErr = make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	dial = func() net.Conn {
		t.Helper()
		var conn net.Conn
		var err error
		for i := 0; i < 100; i++ {
			conn, err = net.Dial("unix", socket)
			if err == nil {
				return conn
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("dial %s: %v", socket, err)
		return nil
	}
	return dial, runErr, cancel
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, line string) Response {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return resp
}

func TestServer_Ping(t *testing.T) {
	dial, _, _ := startServer(t)
	conn := dial()
	defer conn.Close()
	r := bufio.NewReader(conn)

	resp := roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if got, _ := resp.Result.(string); got != "pong" {
		t.Errorf("result = %v, want pong", resp.Result)
	}
	if string(resp.ID) != "1" {
		t.Errorf("id = %s, want 1", resp.ID)
	}
}

func TestServer_ProtocolErrorsKeepConnectionOpen(t *testing.T) {
	dial, _, _ := startServer(t)
	conn := dial()
	defer conn.Close()
	r := bufio.NewReader(conn)

	resp := roundTrip(t, conn, r, `{not json`)
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("error = %+v, want parse error", resp.Error)
	}

	resp = roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":2,"method":"no.such.method"}`)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %+v, want method not found", resp.Error)
	}

	resp = roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":3,"method":"kiln.open"}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
	resp = roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":4,"method":"kiln.open","params":{"path":""}}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("error = %+v, want invalid params for empty path", resp.Error)
	}

	// The same connection still answers after every protocol error.
	resp = roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":5,"method":"ping"}`)
	if got, _ := resp.Result.(string); got != "pong" {
		t.Errorf("connection no longer usable: %+v", resp)
	}
}

func TestServer_KilnLifecycle(t *testing.T) {
	dial, _, _ := startServer(t)
	conn := dial()
	defer conn.Close()
	r := bufio.NewReader(conn)

	root := t.TempDir()
	open, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "kiln.open",
		"params": map[string]string{"path": root},
	})
	resp := roundTrip(t, conn, r, string(open))
	if resp.Error != nil {
		t.Fatalf("kiln.open: %+v", resp.Error)
	}
	status, _ := resp.Result.(map[string]any)
	if status["status"] != "ok" {
		t.Errorf("kiln.open result = %v", resp.Result)
	}

	resp = roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":2,"method":"kiln.list"}`)
	list, _ := resp.Result.([]any)
	if len(list) != 1 {
		t.Fatalf("kiln.list = %v, want one entry", resp.Result)
	}
	entry, _ := list[0].(map[string]any)
	if entry["path"] != root {
		t.Errorf("listed path = %v, want %s", entry["path"], root)
	}

	closeReq, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "kiln.close",
		"params": map[string]string{"path": root},
	})
	resp = roundTrip(t, conn, r, string(closeReq))
	if resp.Error != nil {
		t.Fatalf("kiln.close: %+v", resp.Error)
	}

	// Closing again is an internal error: the kiln is no longer open.
	resp = roundTrip(t, conn, r, string(closeReq))
	if resp.Error == nil || resp.Error.Code != CodeInternal {
		t.Errorf("second close error = %+v, want internal", resp.Error)
	}
}

func TestServer_ShutdownStopsServer(t *testing.T) {
	dial, runErr, _ := startServer(t)
	conn := dial()
	defer conn.Close()
	r := bufio.NewReader(conn)

	resp := roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)
	if got, _ := resp.Result.(string); got != "shutting down" {
		t.Fatalf("result = %v, want shutting down", resp.Result)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

func TestServer_ContextCancelStopsServer(t *testing.T) {
	_, runErr, cancel := startServer(t)
	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
