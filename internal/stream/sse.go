package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AuthFunc yields the Authorization header value for the stream request.
type AuthFunc func() (string, error)

// SSETransport opens the notification stream as a server-sent-events
// connection. The named event "notification" and the default message channel
// both carry notification payloads.
type SSETransport struct {
	url    string
	auth   AuthFunc
	client *http.Client
}

// NewSSETransport creates an SSE transport for the given stream URL.
func NewSSETransport(url string, auth AuthFunc) *SSETransport {
	return &SSETransport{url: url, auth: auth, client: &http.Client{}}
}

// Dial opens the stream with credentials attached.
func (t *SSETransport) Dial(ctx context.Context) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.auth != nil {
		header, err := t.auth()
		if err != nil {
			return nil, fmt.Errorf("failed to attach credentials: %w", err)
		}
		req.Header.Set("Authorization", header)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}

	return &sseConn{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// sseConn parses the text/event-stream wire format. Events are delimited by
// blank lines; comment lines (leading colon) are keepalives.
type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (c *sseConn) Receive() ([]byte, error) {
	event := ""
	var data []string

	for c.scanner.Scan() {
		line := c.scanner.Text()

		if line == "" {
			if len(data) > 0 && (event == "" || event == "notification" || event == "message") {
				return []byte(strings.Join(data, "\n")), nil
			}
			event = ""
			data = nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(value)
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}

	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
