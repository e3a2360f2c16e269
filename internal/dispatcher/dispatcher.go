// Package dispatcher is the front door: it accepts raw TCP connections on
// the hibernator's loopback listener, parses a minimal HTTP/1.1 request
// envelope, resolves the target site by Host, applies the gating rules,
// and either proxies the request to the (possibly just-started) upstream
// or serves the wait page while it comes up.
//
// The envelope parsing is deliberately line-based and framework-free: the
// dispatcher only ever needs the head lines, a handful of header fields,
// and a Content-Length-sized body, and it replays the head verbatim to the
// upstream.
package dispatcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nginx-hibernator/hibernator/internal/domain"
	"github.com/nginx-hibernator/hibernator/internal/httpwire"
	"github.com/nginx-hibernator/hibernator/internal/registry"
	"github.com/nginx-hibernator/hibernator/internal/waitpage"
	"github.com/nginx-hibernator/hibernator/pkg/pool"
)

// readBufferSize is the per-connection bufio.Reader buffer; pooled readers
// reuse this allocation across connections instead of each goroutine
// allocating its own.
const readBufferSize = 4096

// pooledReader lets bufio.Reader be recycled through pkg/pool: Reset()
// detaches it from its current connection so Get() always returns a reader
// with a clean buffer, ready to be re-attached via bufio.Reader.Reset.
type pooledReader struct {
	br *bufio.Reader
}

func (p *pooledReader) Reset() {
	p.br.Reset(nil)
}

var readerPool = pool.NewLitePool(func() *pooledReader {
	return &pooledReader{br: bufio.NewReaderSize(nil, readBufferSize)}
})

// Store is the subset of internal/store.Store the dispatcher needs to
// record connection outcomes.
type Store interface {
	PutConnection(atSec uint64, rec domain.ConnectionRecord) error
}

// APIHandler answers requests under the /hibernator-api/ prefix. Implemented
// by internal/api.Handler.
type APIHandler interface {
	Handle(rawPath string) httpwire.Response
}

// Dispatcher is the front-door request handler: host resolution, gating,
// proxy-or-wait-page policy, and connection recording.
type Dispatcher struct {
	sites    *registry.Sites
	store    Store
	waitPage *waitpage.Template
	api      APIHandler
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Dispatcher. sites and api must already be fully wired;
// Dispatcher never mutates either after construction.
func New(sites *registry.Sites, store Store, waitPage *waitpage.Template, api APIHandler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sites:    sites,
		store:    store,
		waitPage: waitPage,
		api:      api,
		logger:   logger,
		now:      time.Now,
	}
}

// ListenAndServe binds addr and accepts connections until ctx is cancelled.
// Each connection is handled on its own goroutine, and panics are confined
// to that goroutine, so one misbehaving client can never block or topple
// another.
func (d *Dispatcher) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding dispatcher listener on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	d.logger.Info("dispatcher listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			d.logger.Error("accept failed", "error", err)
			continue
		}
		go d.handleConnection(ctx, conn)
	}
}

func (d *Dispatcher) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recovered from panic handling connection", "panic", r)
		}
	}()

	at := uint64(d.now().Unix())

	pr := readerPool.Get()
	defer readerPool.Put(pr)
	pr.br.Reset(conn)
	reader := pr.br

	head, err := readRequestHead(reader)
	if err != nil || len(head.lines) == 0 {
		return
	}

	if strings.HasPrefix(head.path, "/hibernator-api/") {
		_ = d.api.Handle(head.path).Write(conn)
		return
	}

	if head.host == "" {
		_ = httpwire.Text(500, "Hibernator requires a Host header").Write(conn)
		d.record(at, head, domain.ResultMissingHost, nil)
		return
	}

	entry, ok := d.sites.ByHost(head.host)
	if !ok {
		body := fmt.Sprintf("Hibernator doesn't know about the site you're trying to access (host: %s)", head.host)
		_ = httpwire.Text(500, body).Write(conn)
		d.record(at, head, domain.ResultUnknownSite, nil)
		return
	}

	if !shouldBeProcessed(&entry.Config, head.path, head.realIP) {
		resp := d.withRetryAfter(httpwire.Text(503, "Server is unavailable"), entry)
		_ = resp.Write(conn)
		d.record(at, head, domain.ResultIgnored, &entry.Config.Name)
		return
	}

	mode := entry.Config.ProxyMode
	if head.isBrowser {
		mode = entry.Config.BrowserProxyMode
	}
	shouldProxy := mode.ShouldProxy(entry.Controller.CurrentState().IsUp())

	if !shouldProxy {
		d.serveWaitPage(conn, entry)
		entry.Controller.TriggerStart()
		d.record(at, head, domain.ResultUnproxied, &entry.Config.Name)
		return
	}

	body := make([]byte, head.contentLength)
	if head.contentLength > 0 {
		if _, err := io.ReadFull(reader, body); err != nil {
			_ = httpwire.Text(500, fmt.Sprintf("Error while reading request body: %v", err)).Write(conn)
			d.record(at, head, domain.ResultProxyFailed, &entry.Config.Name)
			return
		}
	}

	response, err := d.proxyWithWait(ctx, entry, head.lines, body)
	switch {
	case err == nil:
		_, _ = conn.Write(response)
		d.record(at, head, domain.ResultProxySuccess, &entry.Config.Name)
	case errors.Is(err, context.DeadlineExceeded):
		_ = httpwire.Text(504, "Site is booting up. Try again.").Write(conn)
		d.record(at, head, domain.ResultProxyTimeout, &entry.Config.Name)
	default:
		_ = httpwire.Text(500, fmt.Sprintf("Error while starting site: %v", err)).Write(conn)
		d.record(at, head, domain.ResultProxyFailed, &entry.Config.Name)
	}
}

func (d *Dispatcher) serveWaitPage(conn net.Conn, entry *registry.Entry) {
	elapsed, estimate, ok := entry.Controller.Progress()
	var doneMs, durationMs int64
	if ok {
		doneMs = elapsed.Milliseconds()
		durationMs = estimate.Milliseconds()
	}
	body := d.waitPage.Render(doneMs, durationMs, uint64(entry.Config.KeepAliveSeconds))
	resp := d.withRetryAfter(httpwire.HTML(503, body), entry)
	_ = resp.Write(conn)
}

// withRetryAfter attaches a Retry-After header derived from Progress() when
// there's a nonzero estimate of time remaining, and leaves resp untouched
// otherwise.
func (d *Dispatcher) withRetryAfter(resp httpwire.Response, entry *registry.Entry) httpwire.Response {
	elapsed, estimate, ok := entry.Controller.Progress()
	if !ok {
		return resp
	}
	remaining := estimate - elapsed
	if remaining <= 0 {
		return resp
	}
	return resp.WithHeader("Retry-After", strconv.FormatInt(int64(remaining.Seconds()), 10))
}

func (d *Dispatcher) record(atSec uint64, head requestHead, result domain.ConnectionResult, service *string) {
	rec := domain.NewConnectionRecord(head.lines, result, head.isBrowser, head.realIP)
	if service != nil {
		rec = rec.WithService(*service)
	}
	if err := d.store.PutConnection(atSec, rec); err != nil {
		d.logger.Error("failed to persist connection record", "error", err, "result", result)
	}
}

// proxyWithWait wraps the wake-up rendezvous and the proxy retry loop in a
// single proxy_timeout_ms deadline: however long the start takes, the
// client waits at most that long in total before getting a 504.
func (d *Dispatcher) proxyWithWait(ctx context.Context, entry *registry.Entry, headLines []string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(entry.Config.ProxyTimeoutMs)*time.Millisecond)
	defer cancel()

	type result struct {
		response []byte
		err      error
	}
	resultCh := make(chan result, 1)

	go func() {
		entry.Controller.WaitingTriggerStart()

		interval := time.Duration(entry.Config.ProxyCheckIntervalMs) * time.Millisecond
		for {
			response, err := tryProxy(entry.Config.UpstreamPort, headLines, body)
			if err == nil {
				resultCh <- result{response: response}
				return
			}

			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()

	select {
	case res := <-resultCh:
		return res.response, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
