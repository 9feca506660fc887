// Package preview streams the latest rendered frame to browsers as JPEG
// over a websocket.
//
// The consumer loop only hands results over; encoding and fan-out happen on
// the broadcaster goroutine. Slow clients see fewer frames, never older ones.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/care/orion-pose/internal/types"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 25 * time.Second
	pongWait   = 60 * time.Second
)

// Stats contains broadcaster statistics
type Stats struct {
	Clients int    `json:"clients"`
	Encoded uint64 `json:"encoded"`
	Skipped uint64 `json:"skipped"` // offers replaced before encoding
	Errors  uint64 `json:"errors"`
}

// Broadcaster keeps the newest frame and pushes it to every client
type Broadcaster struct {
	quality  int
	upgrader websocket.Upgrader

	pendingMu sync.Mutex
	pending   *types.Image
	wake      chan struct{}

	mu      sync.RWMutex
	latest  []byte
	clients map[*client]struct{}

	encoded atomic.Uint64
	skipped atomic.Uint64
	errors  atomic.Uint64
}

type client struct {
	conn *websocket.Conn
	send chan []byte // capacity 1, latest wins
	done chan struct{}
}

// NewBroadcaster creates a broadcaster encoding at quality (1-100)
func NewBroadcaster(quality int) *Broadcaster {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &Broadcaster{
		quality: quality,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		wake:    make(chan struct{}, 1),
		clients: make(map[*client]struct{}),
	}
}

// Offer hands a result over for preview. It never blocks.
func (b *Broadcaster) Offer(res types.AnalysisResult) {
	img := res.Image

	b.pendingMu.Lock()
	if b.pending != nil {
		b.skipped.Add(1)
	}
	b.pending = &img
	b.pendingMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run encodes and broadcasts offered frames until ctx is cancelled,
// then disconnects every client.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.closeClients()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}

		b.pendingMu.Lock()
		img := b.pending
		b.pending = nil
		b.pendingMu.Unlock()
		if img == nil {
			continue
		}

		data, err := encodeJPEG(*img, b.quality)
		if err != nil {
			b.errors.Add(1)
			slog.Warn("preview: failed to encode frame", "seq", img.Seq, "error", err)
			continue
		}
		b.encoded.Add(1)
		b.broadcast(data)
	}
}

func (b *Broadcaster) broadcast(data []byte) {
	b.mu.Lock()
	b.latest = data
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.offer(data)
	}
}

// offer replaces any frame the client has not sent yet
func (c *client) offer(data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

// ServeHTTP upgrades the request and streams binary JPEG messages
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("preview: websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 1), done: make(chan struct{})}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	latest := b.latest
	count := len(b.clients)
	b.mu.Unlock()

	slog.Info("preview: client connected", "remote", r.RemoteAddr, "clients", count)

	if latest != nil {
		c.offer(latest)
	}

	go b.readLoop(c)
	b.writeLoop(c)
}

// readLoop discards client messages and notices disconnects
func (b *Broadcaster) readLoop(c *client) {
	defer b.remove(c)

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				b.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.remove(c)
				return
			}
		}
	}
}

// remove unregisters c once; safe to call from both loops
func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c)
	count := len(b.clients)
	b.mu.Unlock()

	close(c.done)
	slog.Info("preview: client disconnected", "clients", count)
}

func (b *Broadcaster) closeClients() {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.remove(c)
	}
}

// SnapshotHandler serves the latest encoded frame as image/jpeg
func (b *Broadcaster) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	latest := b.latest
	b.mu.RUnlock()

	if latest == nil {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(latest)
}

// Stats returns broadcaster statistics
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	clients := len(b.clients)
	b.mu.RUnlock()
	return Stats{
		Clients: clients,
		Encoded: b.encoded.Load(),
		Skipped: b.skipped.Load(),
		Errors:  b.errors.Load(),
	}
}

// encodeJPEG converts a bgr8 image and encodes it
func encodeJPEG(img types.Image, quality int) ([]byte, error) {
	if img.Encoding != types.EncodingBGR8 {
		return nil, fmt.Errorf("unsupported encoding %q", img.Encoding)
	}
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height*3 {
		return nil, fmt.Errorf("buffer size %d does not match %dx%d", len(img.Data), img.Width, img.Height)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i, j := 0, 0; i < len(img.Data); i, j = i+3, j+4 {
		rgba.Pix[j] = img.Data[i+2]
		rgba.Pix[j+1] = img.Data[i+1]
		rgba.Pix[j+2] = img.Data[i]
		rgba.Pix[j+3] = 0xff
	}

	var buf bytes.Buffer
	buf.Grow(256 * 1024)
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
