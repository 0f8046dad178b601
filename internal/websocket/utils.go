package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait bounds silence from the client; ping keeps it alive.
	ReadWait = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
// Callers serialize writes; gorilla allows one concurrent writer.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string, fields map[string]string) error {
	return WriteTyped(conn, ErrorResponse{
		Event:  EventError,
		Code:   code,
		Error:  errMsg,
		Fields: fields,
	})
}

// ReadMessage reads one text frame. It sets a read deadline.
func ReadMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(ReadWait))
	_, data, err := conn.ReadMessage()
	return data, err
}
