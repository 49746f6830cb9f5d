// network/connection.go
package network

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxFrameSize bounds a single framed message.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// Connection is one agent transport. Every ReadMessage returns exactly one
// complete framed message.
type Connection interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

// WSConnection frames one JSON message per websocket text message.
type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	conn.SetReadLimit(MaxFrameSize)
	return &WSConnection{conn: conn}
}

func (c *WSConnection) WriteMessage(data []byte) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConnection) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WSConnection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *WSConnection) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close sends a close frame and closes without waiting for a blocked write;
// WriteControl is safe alongside WriteMessage.
func (c *WSConnection) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LineConnection frames newline-terminated JSON over a raw stream.
type LineConnection struct {
	conn      net.Conn
	reader    *bufio.Reader
	sendMutex sync.Mutex
}

func NewLineConnection(conn net.Conn) *LineConnection {
	return &LineConnection{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
	}
}

func (c *LineConnection) WriteMessage(data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		data = bytes.ReplaceAll(data, []byte("\n"), nil)
	}
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	packet := make([]byte, 0, len(data)+1)
	packet = append(packet, data...)
	packet = append(packet, '\n')
	_, err := c.conn.Write(packet)
	return err
}

// ReadMessage returns the next non-empty line without its terminator.
func (c *LineConnection) ReadMessage() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		if isPrefix {
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			line = line[:0]
			continue
		}
		return line, nil
	}
}

func (c *LineConnection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *LineConnection) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close unblocks a pending write.
func (c *LineConnection) Close() error {
	return c.conn.Close()
}

func (c *LineConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
