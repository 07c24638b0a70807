package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// MessageTransport carries whole JSON-RPC messages. The stream
// implementation frames them with Content-Length headers; the websocket
// implementation maps them onto websocket messages.
type MessageTransport interface {
	// ReadMessage returns the next complete message body.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one complete message body.
	WriteMessage(data []byte) error

	// Close releases the underlying connection.
	Close() error
}

// StreamTransport frames messages with Content-Length headers over a
// byte stream, typically stdin/stdout.
type StreamTransport struct {
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  io.Writer
	closer  io.Closer
}

// NewStreamTransport creates a transport over the given stream. The
// closer may be nil when the caller owns the stream's lifetime.
func NewStreamTransport(r io.Reader, w io.Writer, c io.Closer) *StreamTransport {
	return &StreamTransport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: c,
	}
}

// ReadMessage reads a single framed message.
func (t *StreamTransport) ReadMessage() ([]byte, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err == nil {
					contentLength = length
				}
			}
		}
		// Ignore Content-Type and other headers
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// WriteMessage writes a single framed message.
func (t *StreamTransport) WriteMessage(data []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Close closes the underlying stream if a closer was provided.
func (t *StreamTransport) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
