package metrics

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Pusher maintains a websocket connection to the platform metrics endpoint.
// The connection is dialed lazily and redialed after a write failure.
type Pusher struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPusher creates a pusher for the given ws:// or wss:// URL
func NewPusher(url string) *Pusher {
	return &Pusher{url: url}
}

// Push sends one sample as a JSON text frame
func (p *Pusher) Push(sample ContainerMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		if err := p.dialLocked(); err != nil {
			return err
		}
	}

	if err := p.conn.WriteJSON(sample); err != nil {
		// Stale connection: drop it and retry once on a fresh dial
		p.closeLocked()
		if err := p.dialLocked(); err != nil {
			return err
		}
		return p.conn.WriteJSON(sample)
	}
	return nil
}

func (p *Pusher) dialLocked() error {
	conn, _, err := websocket.DefaultDialer.Dial(p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial metrics endpoint %s: %w", p.url, err)
	}
	p.conn = conn
	log.Info().Str("url", p.url).Msg("Connected to metrics endpoint")
	return nil
}

func (p *Pusher) closeLocked() {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close tears down the connection if one is open
func (p *Pusher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
