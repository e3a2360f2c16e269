// Package tui renders a live terminal dashboard of every configured site's
// lifecycle state, polling the hibernator's own inspection API over the
// loopback listener. It is launched with --status on an operator's shell
// while the daemon runs elsewhere on the same host.
package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// serviceRow is the JSON shape of one entry from
// GET /hibernator-api/services.
type serviceRow struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	LastChangedUnix int64  `json:"last_changed_unix"`
}

// inspectClient speaks the hibernator's line-based HTTP dialect to the
// loopback listener, the same minimal envelope the dispatcher itself parses.
type inspectClient struct {
	port        uint16
	dialTimeout time.Duration
}

func newInspectClient(port uint16) *inspectClient {
	return &inspectClient{port: port, dialTimeout: 2 * time.Second}
}

// fetchServices queries the services endpoint and decodes the response.
func (c *inspectClient) fetchServices() ([]serviceRow, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", c.port), c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing hibernator on port %d: %w", c.port, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	request := "GET /hibernator-api/services HTTP/1.1\r\nHost: 127.0.0.1\r\n\r\n"
	if _, err := io.WriteString(conn, request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	head, body, found := strings.Cut(string(raw), "\r\n\r\n")
	if !found {
		return nil, fmt.Errorf("malformed response from hibernator")
	}
	statusLine, _, _ := strings.Cut(head, "\r\n")
	if !strings.Contains(statusLine, " 200 ") {
		return nil, fmt.Errorf("hibernator answered %q", statusLine)
	}

	var rows []serviceRow
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, fmt.Errorf("decoding services: %w", err)
	}
	return rows, nil
}
