package dispatcher

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/config"
	"github.com/nginx-hibernator/hibernator/internal/controller"
	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/registry"
	"github.com/nginx-hibernator/hibernator/internal/waitpage"
)

type countingRunner struct {
	startCalls int32
	stopCalls  int32
}

func (r *countingRunner) Start(ctx context.Context, service string) error {
	atomic.AddInt32(&r.startCalls, 1)
	return nil
}

func (r *countingRunner) Stop(ctx context.Context, service string) error {
	atomic.AddInt32(&r.stopCalls, 1)
	return nil
}

type healthyProbe struct{}

func (healthyProbe) IsHealthy(ctx context.Context, port uint16) bool { return true }

// fakeUpstream answers every request with a canned response, like the real
// backend would once systemd has brought it up.
func fakeUpstream(t *testing.T, response string) (port uint16, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				contentLength := 0
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimRight(line, "\r\n")
					if line == "" {
						break
					}
					lower := strings.ToLower(line)
					if strings.HasPrefix(lower, "content-length:") {
						contentLength, _ = strconv.Atoi(strings.TrimSpace(line[len("content-length:"):]))
					}
				}
				if contentLength > 0 {
					body := make([]byte, contentLength)
					if _, err := io.ReadFull(reader, body); err != nil {
						return
					}
				}
				_, _ = io.WriteString(conn, response)
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return uint16(addr.Port), func() { _ = ln.Close() }
}

type e2eEnv struct {
	dispatcher *Dispatcher
	store      *fakeStore
	runner     *countingRunner
	cancel     context.CancelFunc
}

func newE2EEnv(t *testing.T, cfg config.SiteConfig, probe controller.HealthProbe) *e2eEnv {
	t.Helper()

	st := newFakeStore()
	runner := &countingRunner{}
	logger := slog.New(slog.DiscardHandler)

	ctrl, err := controller.New(cfg, st, runner, fakeReloader{}, probe, logger)
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}

	sites := registry.New([]*registry.Entry{{Config: cfg, Controller: ctrl}})
	page, err := waitpage.Load("")
	if err != nil {
		t.Fatalf("waitpage.Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(cancel)

	return &e2eEnv{
		dispatcher: New(sites, st, page, nil, logger),
		store:      st,
		runner:     runner,
		cancel:     cancel,
	}
}

// roundTrip pushes one raw request through handleConnection over an
// in-memory pipe and returns everything written back before close.
func (e *e2eEnv) roundTrip(t *testing.T, rawRequest string) string {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.dispatcher.handleConnection(context.Background(), serverSide)
	}()

	if _, err := io.WriteString(clientSide, rawRequest); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	response, err := io.ReadAll(clientSide)
	if err != nil && err != io.EOF {
		t.Fatalf("reading response: %v", err)
	}
	_ = clientSide.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handleConnection did not finish")
	}
	return string(response)
}

func e2eConfig(port uint16) config.SiteConfig {
	return config.SiteConfig{
		Name:                 "blog",
		Hosts:                []string{"a.example"},
		UpstreamPort:         port,
		ServiceName:          "blog.service",
		AccessLogPath:        "/nonexistent/access.log",
		KeepAliveSeconds:     300,
		ProxyMode:            domain.ProxyAlways,
		BrowserProxyMode:     domain.ProxyWhenReady,
		ProxyTimeoutMs:       3000,
		ProxyCheckIntervalMs: 10,
		StartTimeoutMs:       1000,
		StartCheckIntervalMs: 5,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestColdWakeByBrowserGetsWaitPage(t *testing.T) {
	env := newE2EEnv(t, e2eConfig(1), healthyProbe{})

	// Put the site into Down so the WhenReady browser policy refuses to
	// proxy and serves the wait page instead.
	_ = env.store.AppendState("blog", domain.StateDown)

	response := env.roundTrip(t, "GET / HTTP/1.1\r\nHost: a.example\r\nSec-Fetch-Mode: navigate\r\n\r\n")

	if !strings.HasPrefix(response, "HTTP/1.1 503 ") {
		t.Fatalf("expected a 503 wait page, got: %q", response)
	}
	if !strings.Contains(response, `data-keep-alive="300"`) {
		t.Errorf("expected KEEP_ALIVE substituted to 300, got: %q", response)
	}

	// The wait page still wakes the site in the background.
	waitFor(t, "ServiceRunner.Start", func() bool {
		return atomic.LoadInt32(&env.runner.startCalls) == 1
	})

	results := env.store.recordedResults()
	if len(results) != 1 || results[0] != domain.ResultUnproxied {
		t.Errorf("recorded results = %v, want [Unproxied]", results)
	}
}

func TestHotProxyReturnsUpstreamBytes(t *testing.T) {
	upstream := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"
	port, stop := fakeUpstream(t, upstream)
	defer stop()

	env := newE2EEnv(t, e2eConfig(port), healthyProbe{})
	_ = env.store.AppendState("blog", domain.StateUp)

	response := env.roundTrip(t, "POST /api HTTP/1.1\r\nHost: a.example\r\nContent-Length: 5\r\n\r\nhello")

	if response != upstream {
		t.Fatalf("response = %q, want the exact upstream bytes %q", response, upstream)
	}

	results := env.store.recordedResults()
	if len(results) != 1 || results[0] != domain.ResultProxySuccess {
		t.Errorf("recorded results = %v, want [ProxySuccess]", results)
	}
}

func TestCoalescedWakesStartServiceOnce(t *testing.T) {
	upstream := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"
	port, stop := fakeUpstream(t, upstream)
	defer stop()

	env := newE2EEnv(t, e2eConfig(port), healthyProbe{})
	_ = env.store.AppendState("blog", domain.StateDown)

	var wg sync.WaitGroup
	responses := make([]string, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = env.roundTrip(t, "GET / HTTP/1.1\r\nHost: a.example\r\n\r\n")
		}()
	}
	wg.Wait()

	for i, response := range responses {
		if response != upstream {
			t.Errorf("client %d got %q, want %q", i, response, upstream)
		}
	}
	if calls := atomic.LoadInt32(&env.runner.startCalls); calls != 1 {
		t.Errorf("ServiceRunner.Start called %d times, want exactly 1", calls)
	}
}

func TestMissingHostRecordsMissingHost(t *testing.T) {
	env := newE2EEnv(t, e2eConfig(1), healthyProbe{})

	response := env.roundTrip(t, "GET / HTTP/1.1\r\n\r\n")

	if !strings.HasPrefix(response, "HTTP/1.1 500 ") {
		t.Fatalf("expected 500 for a missing Host header, got %q", response)
	}
	results := env.store.recordedResults()
	if len(results) != 1 || results[0] != domain.ResultMissingHost {
		t.Errorf("recorded results = %v, want [MissingHost]", results)
	}
}
