package edge

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSwapSymlinkAtomicCreatesAndRewrites(t *testing.T) {
	dir := t.TempDir()
	targetA := filepath.Join(dir, "a")
	targetB := filepath.Join(dir, "b")
	link := filepath.Join(dir, "enabled")

	changed, err := swapSymlinkAtomic(targetA, link)
	if err != nil {
		t.Fatalf("swapSymlinkAtomic: %v", err)
	}
	if !changed {
		t.Fatal("expected first swap to report a change")
	}
	dest, err := os.Readlink(link)
	if err != nil || dest != targetA {
		t.Fatalf("expected link -> %s, got %s (err %v)", targetA, dest, err)
	}

	changed, err = swapSymlinkAtomic(targetA, link)
	if err != nil {
		t.Fatalf("swapSymlinkAtomic (no-op): %v", err)
	}
	if changed {
		t.Fatal("expected repeat swap to the same target to report no change")
	}

	changed, err = swapSymlinkAtomic(targetB, link)
	if err != nil {
		t.Fatalf("swapSymlinkAtomic (rewrite): %v", err)
	}
	if !changed {
		t.Fatal("expected swap to a new target to report a change")
	}
	dest, err = os.Readlink(link)
	if err != nil || dest != targetB {
		t.Fatalf("expected link -> %s, got %s (err %v)", targetB, dest, err)
	}
}

func TestHealthProbeDetectsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 256)
				_, _ = conn.Read(buf)
				_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
			}()
		}
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	probe := NewHealthProbe(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if !probe.IsHealthy(ctx, port) {
		t.Fatal("expected probe to report healthy for a responding listener")
	}
}

func TestHealthProbeDetectsClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	probe := NewHealthProbe(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if probe.IsHealthy(ctx, port) {
		t.Fatal("expected probe to report unhealthy for a closed port")
	}
}
