package dispatcher

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// tryProxy opens a TCP connection to the upstream, replays the request head
// and body, and reads the response to EOF. An empty response is treated as
// failure, so a backend that accepts connections before it can answer still
// counts as not-ready.
func tryProxy(port uint16, headLines []string, body []byte) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing upstream: %w", err)
	}
	defer conn.Close()

	head := strings.Join(headLines, "\r\n") + "\r\n\r\n"
	if _, err := io.WriteString(conn, head); err != nil {
		return nil, fmt.Errorf("writing request head: %w", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return nil, fmt.Errorf("writing request body: %w", err)
		}
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	if len(response) == 0 {
		return nil, errors.New("empty response from upstream")
	}
	return response, nil
}
