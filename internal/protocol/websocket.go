package protocol

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketTransport adapts a websocket connection to MessageTransport.
// Each JSON-RPC message travels as one text message, no extra framing.
type WebsocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// NewWebsocketTransport wraps an established websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) *WebsocketTransport {
	return &WebsocketTransport{conn: conn}
}

// ReadMessage returns the next text message body.
func (t *WebsocketTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage sends one text message.
func (t *WebsocketTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the websocket connection.
func (t *WebsocketTransport) Close() error {
	return t.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   64 * 1024,
	WriteBufferSize:  64 * 1024,
	HandshakeTimeout: 10 * time.Second,
}

// AcceptWebsocket listens on addr and blocks until one editor connects
// to path, returning its transport. The backend serves a single editor,
// so the listener shuts down after the first upgrade.
func AcceptWebsocket(addr, path string) (*WebsocketTransport, error) {
	type result struct {
		transport *WebsocketTransport
		err       error
	}
	accepted := make(chan result, 1)

	mux := http.NewServeMux()
	server := &http.Server{Addr: addr, Handler: mux}

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			accepted <- result{err: fmt.Errorf("upgrade websocket: %w", err)}
			return
		}
		accepted <- result{transport: NewWebsocketTransport(conn)}
	})

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			accepted <- result{err: fmt.Errorf("listen %s: %w", addr, err)}
		}
	}()

	res := <-accepted
	_ = server.Close()
	return res.transport, res.err
}
