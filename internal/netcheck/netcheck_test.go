package netcheck

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatic(t *testing.T) {
	if !Static(true).IsNetworkAvailable() {
		t.Error("Static(true) should be available")
	}
	if Static(false).IsNetworkAvailable() {
		t.Error("Static(false) should be unavailable")
	}
}

func TestProberAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := NewProber(ln.Addr().String(), time.Minute)
	if !p.IsNetworkAvailable() {
		t.Error("expected listener to be reachable")
	}
}

func TestProberCachesResult(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dials := 0
	up := true

	p := NewProber("example.invalid:443", 30*time.Second)
	p.now = func() time.Time { return now }
	p.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials++
		if !up {
			return nil, errors.New("unreachable")
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}

	if !p.IsNetworkAvailable() {
		t.Fatal("first probe should succeed")
	}
	up = false
	if !p.IsNetworkAvailable() {
		t.Error("cached answer should still be true")
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}

	now = now.Add(31 * time.Second)
	if p.IsNetworkAvailable() {
		t.Error("stale answer should be re-probed")
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}

	up = true
	p.Invalidate()
	if !p.IsNetworkAvailable() {
		t.Error("invalidate should force a new probe")
	}
}

func TestProberSharesOneDial(t *testing.T) {
	var dials atomic.Int32
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)

	p := NewProber("example.invalid:443", time.Minute)
	p.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials.Add(1)
		entered <- struct{}{}
		<-gate
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}

	results := make(chan bool, 2)
	go func() { results <- p.IsNetworkAvailable() }()
	<-entered

	// The lock is free while the dial is in flight.
	invalidated := make(chan struct{})
	go func() {
		p.Invalidate()
		close(invalidated)
	}()
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("Invalidate blocked behind a running dial")
	}

	go func() { results <- p.IsNetworkAvailable() }()
	time.Sleep(10 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if !<-results {
			t.Error("expected network to be available")
		}
	}
	if n := dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}
