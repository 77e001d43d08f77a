package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sekia-ai/primbus/pkg/primitive"
)

// maxSSEClients caps concurrent live-feed connections.
const maxSSEClients = 32

// ErrTooManyClients is returned by Subscribe when the client cap is reached.
var ErrTooManyClients = errors.New("too many live feed clients")

// PrimitiveRow is one entry of the live primitive feed.
type PrimitiveRow struct {
	Time    string
	Subject string
	ID      string
	Invalid bool
	Message primitive.Message
}

// Feed fans primitive rows out to SSE clients and keeps the most recent ones.
type Feed struct {
	mu      sync.RWMutex
	clients map[chan PrimitiveRow]struct{}
	ring    []PrimitiveRow
	pos     int
	n       int
}

// NewFeed creates a feed that remembers size rows. A size below 1 keeps one.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{
		clients: make(map[chan PrimitiveRow]struct{}),
		ring:    make([]PrimitiveRow, size),
	}
}

// Publish records row and sends it to every client. Slow clients miss rows.
func (f *Feed) Publish(row PrimitiveRow) {
	f.mu.Lock()
	f.ring[f.pos] = row
	f.pos = (f.pos + 1) % len(f.ring)
	if f.n < len(f.ring) {
		f.n++
	}
	clients := make([]chan PrimitiveRow, 0, len(f.clients))
	for ch := range f.clients {
		clients = append(clients, ch)
	}
	f.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- row:
		default:
		}
	}
}

// Subscribe registers a client. The returned func unsubscribes it.
func (f *Feed) Subscribe() (<-chan PrimitiveRow, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) >= maxSSEClients {
		return nil, nil, ErrTooManyClients
	}
	ch := make(chan PrimitiveRow, 64)
	f.clients[ch] = struct{}{}
	return ch, func() {
		f.mu.Lock()
		delete(f.clients, ch)
		f.mu.Unlock()
	}, nil
}

// Recent returns the remembered rows, oldest first.
func (f *Feed) Recent() []PrimitiveRow {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]PrimitiveRow, 0, f.n)
	start := (f.pos - f.n + len(f.ring)) % len(f.ring)
	for i := 0; i < f.n; i++ {
		out = append(out, f.ring[(start+i)%len(f.ring)])
	}
	return out
}

func (s *Server) handlePrimitiveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, unsub, err := s.feed.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case row := <-ch:
			html, err := s.renderRow(row)
			if err != nil {
				s.logger.Error().Err(err).Str("subject", row.Subject).Msg("render feed row")
				continue
			}
			fmt.Fprintf(w, "event: primitive\ndata: %s\n\n", html)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// renderRow renders a feed row as single-line HTML for an SSE data field.
func (s *Server) renderRow(row PrimitiveRow) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "primitive_row", row); err != nil {
		return "", err
	}
	return strings.ReplaceAll(buf.String(), "\n", ""), nil
}
