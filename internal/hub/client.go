package hub

import (
	"sync"

	"github.com/DoyleJ11/pong-arena-backend/internal/types"
)

// Client is one socket. The transport drains Outbox; everything else only
// calls Send, which never blocks.
type Client struct {
	id     string
	outbox chan types.ServerMessage

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, size int) *Client {
	if size <= 0 {
		size = 64
	}
	return &Client{id: id, outbox: make(chan types.ServerMessage, size)}
}

func (c *Client) ID() string { return c.id }

// Outbox is closed when the client is closed.
func (c *Client) Outbox() <-chan types.ServerMessage { return c.outbox }

// Send queues msg and reports false if the client is closed or its buffer is
// full.
func (c *Client) Send(msg types.ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbox)
}
