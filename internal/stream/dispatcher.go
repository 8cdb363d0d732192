// Package stream writes a chat reply to the client as Server-Sent Events.
//
// Frames:
//
//	data: <json string>\n\n                  one text chunk
//	: ping\n\n                               heartbeat
//	event: error\ndata: <json string>\n\n    terminal error
//	data: [DONE]\n\n                         end of stream
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/logger"
)

// ErrClientGone is returned by Send once the client has disconnected or the
// stream was finished.
var ErrClientGone = errors.New("client disconnected")

const doneSentinel = "[DONE]"

// Dispatcher owns the response body for one request.
type Dispatcher struct {
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool

	finishOnce sync.Once
	stopPing   chan struct{}
	pingDone   chan struct{}
}

// New writes the SSE headers and starts the heartbeat. ctx is the request
// context; its cancellation marks the client as gone.
func New(ctx context.Context, w http.ResponseWriter, heartbeat time.Duration) (*Dispatcher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	d := &Dispatcher{
		ctx:      ctx,
		w:        w,
		flusher:  flusher,
		stopPing: make(chan struct{}),
		pingDone: make(chan struct{}),
	}
	go d.heartbeat(heartbeat)
	return d, nil
}

func (d *Dispatcher) heartbeat(every time.Duration) {
	defer close(d.pingDone)
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-d.stopPing:
			return
		case <-d.ctx.Done():
			return
		case <-t.C:
			d.mu.Lock()
			_ = d.writeLocked(": ping\n\n")
			d.mu.Unlock()
		}
	}
}

// writeLocked writes one frame unless the stream is already closed. A failed
// write or a cancelled request closes the stream for good.
func (d *Dispatcher) writeLocked(frame string) error {
	if d.closed {
		return ErrClientGone
	}
	if d.ctx.Err() != nil {
		d.closed = true
		return ErrClientGone
	}
	if _, err := io.WriteString(d.w, frame); err != nil {
		d.closed = true
		return ErrClientGone
	}
	d.flusher.Flush()
	return nil
}

// Send writes one text chunk.
func (d *Dispatcher) Send(text string) error {
	frame := "data: " + jsonString(text) + "\n\n"
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(frame)
}

// Closed reports whether further writes are suppressed.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed || d.ctx.Err() != nil
}

// Finish terminates the stream: an error frame if err is non-nil, then the
// sentinel. Only the first call has any effect.
func (d *Dispatcher) Finish(err error) {
	d.finishOnce.Do(func() {
		close(d.stopPing)
		<-d.pingDone

		d.mu.Lock()
		defer d.mu.Unlock()
		if err != nil {
			_ = d.writeLocked("event: error\ndata: " + jsonString(err.Error()) + "\n\n")
		}
		_ = d.writeLocked("data: " + doneSentinel + "\n\n")
		d.closed = true
	})
}

// Pipe forwards deltas from s until it ends and returns the text sent. The
// upstream stream is closed when the client goes away. A nil error means
// the upstream finished normally.
func (d *Dispatcher) Pipe(s llm.DeltaStream) (string, error) {
	stop := context.AfterFunc(d.ctx, func() { _ = s.Close() })
	defer stop()
	defer s.Close()

	var sb strings.Builder
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			if d.ctx.Err() != nil {
				return sb.String(), d.ctx.Err()
			}
			return sb.String(), fmt.Errorf("upstream stream: %w", err)
		}
		if delta == "" {
			continue
		}
		if err := d.Send(delta); err != nil {
			logger.NewContextLogger(d.ctx).Info("stream_client_gone", "sent_chars", sb.Len())
			return sb.String(), context.Canceled
		}
		sb.WriteString(delta)
	}
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimRight(buf.String(), "\n")
}
