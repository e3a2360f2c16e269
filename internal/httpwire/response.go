// Package httpwire writes bare HTTP/1.1 response lines directly to a
// connection, hand-assembling "{status_line}\r\nContent-Length:
// {n}\r\n...{content}" rather than going through a framework response
// writer. The dispatcher and inspection API share this so status line and
// header formatting stays in one place.
package httpwire

import (
	"fmt"
	"io"
)

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
	500: "Internal Server Error",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the reason phrase for code, or "Unknown" if this
// package doesn't recognise it.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

// Response is a status code, header set and body ready to be written as one
// HTTP/1.1 message. Content-Length is always computed from len(Body); the
// caller never sets it explicitly.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Text builds a text/plain response.
func Text(status int, body string) Response {
	return Response{Status: status, Headers: map[string]string{"Content-Type": "text/plain"}, Body: []byte(body)}
}

// JSON builds an application/json response from an already-marshaled body.
func JSON(status int, body []byte) Response {
	return Response{Status: status, Headers: map[string]string{"Content-Type": "application/json"}, Body: body}
}

// HTML builds a text/html response.
func HTML(status int, body string) Response {
	return Response{Status: status, Headers: map[string]string{"Content-Type": "text/html"}, Body: []byte(body)}
}

// WithHeader returns a copy of r with header set.
func (r Response) WithHeader(key, value string) Response {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[key] = value
	r.Headers = headers
	return r
}

// Write serializes r onto w as a complete HTTP/1.1 response.
func (r Response) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", r.Status, StatusText(r.Status)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n", len(r.Body)); err != nil {
		return err
	}
	for key, value := range r.Headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", key, value); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	_, err := w.Write(r.Body)
	return err
}
