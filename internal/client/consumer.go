package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/generate"
	"github.com/esnunes/prospector/internal/tile"
)

const (
	readBufferSize = 4096
	outcomeTrailer = "X-Generation-Outcome"
)

var ErrAborted = errors.New("generation aborted")

// ChunkFunc observes a stream: delta is the text just read, buffer is
// everything read so far.
type ChunkFunc func(delta, buffer string)

// Consumer reads generation streams into a buffer. It never persists
// anything; callers hand the terminal event to a tile.Finalizer.
type Consumer struct {
	client *Client
	log    *zap.Logger
}

func NewConsumer(c *Client, log *zap.Logger) *Consumer {
	return &Consumer{client: c, log: log}
}

// Handle is one running stream.
type Handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu       sync.Mutex
	buf      strings.Builder
	aborted  bool
	finished bool
	term     tile.Terminal
}

// Start posts req to the generation endpoint and streams the answer in the
// background. onChunk may be nil.
func (c *Consumer) Start(ctx context.Context, req generate.Request, onChunk ChunkFunc) *Handle {
	ctx, cancel := context.WithCancelCause(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go h.run(ctx, c, req, onChunk)
	return h
}

// Abort stops the stream and drops the buffer. It is safe to call any
// number of times, and does nothing once the stream has ended.
func (h *Handle) Abort() {
	h.mu.Lock()
	if h.aborted || h.finished {
		h.mu.Unlock()
		return
	}
	h.aborted = true
	h.buf.Reset()
	h.mu.Unlock()
	h.cancel(ErrAborted)
}

// Wait blocks until the stream ends and returns its single terminal event.
func (h *Handle) Wait() tile.Terminal {
	<-h.done
	return h.term
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Buffer returns the text read so far.
func (h *Handle) Buffer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

func (h *Handle) append(chunk string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aborted {
		return "", false
	}
	h.buf.WriteString(chunk)
	return h.buf.String(), true
}

func (h *Handle) finish(term tile.Terminal) {
	h.mu.Lock()
	if h.aborted {
		term.Outcome = tile.OutcomeAborted
		term.Text = ""
		term.Err = nil
	}
	switch term.Outcome {
	case tile.OutcomeCompleted:
		term.Text = h.buf.String()
	case tile.OutcomeAborted:
		h.buf.Reset()
	}
	h.finished = true
	h.term = term
	h.mu.Unlock()

	h.cancel(nil)
	close(h.done)
}

func (h *Handle) run(ctx context.Context, c *Consumer, req generate.Request, onChunk ChunkFunc) {
	term := tile.Terminal{TileID: req.TileID, ContextVersion: req.ContextVersion}
	log := c.log.With(zap.String("tile_id", req.TileID))

	fail := func(err error) {
		term.Err = err
		term.Outcome = tile.OutcomeFailed
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			term.Err = cause
			if errors.Is(cause, ErrAborted) || errors.Is(cause, context.Canceled) {
				term.Outcome = tile.OutcomeAborted
			}
		}
		if term.Outcome == tile.OutcomeFailed {
			log.Warn("generation stream failed", zap.Error(term.Err))
		}
		h.finish(term)
	}

	httpReq, err := c.client.newRequest(ctx, http.MethodPost, "/api/ai/respond", req)
	if err != nil {
		fail(err)
		return
	}
	resp, err := c.client.http.Do(httpReq)
	if err != nil {
		fail(fmt.Errorf("starting generation: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// aborted or superseded on the server before anything streamed
		term.Outcome = tile.OutcomeAborted
		term.Err = readAPIError(resp)
		h.finish(term)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail(readAPIError(resp))
		return
	}
	term.AttemptID = resp.Header.Get("X-Attempt-ID")
	if v, err := strconv.ParseInt(resp.Header.Get("X-Context-Version"), 10, 64); err == nil {
		term.ContextVersion = v
	}

	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completePrefix(pending)
			if cut > 0 {
				delta := string(pending[:cut])
				pending = append(pending[:0], pending[cut:]...)
				if buffer, ok := h.append(delta); ok && onChunk != nil {
					onChunk(delta, buffer)
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			if len(pending) > 0 {
				if buffer, ok := h.append(string(pending)); ok && onChunk != nil {
					onChunk(string(pending), buffer)
				}
			}
			term.Outcome = tile.OutcomeCompleted
			if resp.Trailer.Get(outcomeTrailer) == tile.OutcomeAborted.String() {
				term.Outcome = tile.OutcomeAborted
				term.Err = ErrAborted
			}
			h.finish(term)
			return
		}
		if rerr != nil {
			fail(fmt.Errorf("reading stream: %w", rerr))
			return
		}
	}
}

// completePrefix returns how many leading bytes of b end on a rune
// boundary, holding back a rune split across reads.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}
