package ssh

import (
	"context"
	"testing"
)

func openTestConn(t *testing.T, addr string, port int) *Connection {
	t.Helper()
	f := NewFactory(WithKeepalive(0))
	conn, err := f.Open(context.Background(), testHost(addr, port), testCredential(), testSecret())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return conn
}

func TestRegistryHit(t *testing.T) {
	addr, port := startTestServer(t, echoHandler)
	r := NewRegistry()
	defer r.Shutdown()

	conn := openTestConn(t, addr, port)
	r.Put(conn)

	got, ok := r.Get(conn.HostID, conn.CredentialID)
	if !ok {
		t.Fatal("want cache hit")
	}
	if got != conn {
		t.Fatal("hit returned a different connection")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRegistryMiss(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(42, 42); ok {
		t.Fatal("want miss for unknown pair")
	}
}

// A dead cached connection must be evicted on lookup instead of handed out.
func TestRegistryEvictsDeadOnGet(t *testing.T) {
	addr, port := startTestServer(t, echoHandler)
	r := NewRegistry()

	conn := openTestConn(t, addr, port)
	r.Put(conn)
	conn.Close()

	if _, ok := r.Get(conn.HostID, conn.CredentialID); ok {
		t.Fatal("dead connection must not be a hit")
	}
	if r.Len() != 0 {
		t.Fatalf("dead entry not evicted, len = %d", r.Len())
	}
}

// Put displaces a previous entry without closing it: sessions may still be
// multiplexed over the displaced transport.
func TestRegistryPutDisplacesWithoutClosing(t *testing.T) {
	addr, port := startTestServer(t, echoHandler)
	r := NewRegistry()
	defer r.Shutdown()

	first := openTestConn(t, addr, port)
	second := openTestConn(t, addr, port)
	defer first.Close()

	r.Put(first)
	r.Put(second)

	got, ok := r.Get(first.HostID, first.CredentialID)
	if !ok || got != second {
		t.Fatal("newest connection must win")
	}
	if !first.Alive() {
		t.Fatal("displaced connection must stay open")
	}
}

func TestRegistryEvict(t *testing.T) {
	addr, port := startTestServer(t, echoHandler)
	r := NewRegistry()

	conn := openTestConn(t, addr, port)
	r.Put(conn)

	if !r.Evict(conn.HostID, conn.CredentialID) {
		t.Fatal("evict must report the entry existed")
	}
	if conn.Alive() {
		t.Fatal("evicted connection must be closed")
	}
	if r.Evict(conn.HostID, conn.CredentialID) {
		t.Fatal("second evict must report a miss")
	}
}

func TestRegistryShutdown(t *testing.T) {
	addr, port := startTestServer(t, echoHandler)
	r := NewRegistry()

	conn := openTestConn(t, addr, port)
	r.Put(conn)
	r.Shutdown()

	if conn.Alive() {
		t.Fatal("shutdown must close cached connections")
	}
	if r.Len() != 0 {
		t.Fatalf("len after shutdown = %d", r.Len())
	}
}
