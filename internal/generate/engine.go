// Package generate runs tile generations: it checks preconditions, fences
// concurrent attempts on the same tile, relays the model stream chunk by
// chunk and persists exactly one outcome per attempt.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/esnunes/prospector/internal/llm"
	"github.com/esnunes/prospector/internal/models"
	"github.com/esnunes/prospector/internal/prompt"
	"github.com/esnunes/prospector/internal/tile"
)

var (
	ErrPrecondition = errors.New("generation precondition not met")
	ErrUpstream     = errors.New("upstream model error")
	ErrSuperseded   = errors.New("superseded by a newer generation")
	ErrTimeout      = errors.New("generation timed out")
)

const finalizeTimeout = 10 * time.Second

// Request is the body of a generation call.
type Request struct {
	TileID         string          `json:"tileId"`
	BasePrompt     string          `json:"basePrompt"`
	ExAnswer       string          `json:"exAnswer,omitempty"`
	LastAnswer     string          `json:"lastAnswer,omitempty"`
	UserRefinement *string         `json:"userRefinement,omitempty"`
	Company        *models.Company `json:"company"`
	ContextVersion int64           `json:"contextVersion"`
}

// Store is the persistence the engine needs.
type Store interface {
	tile.Store
	GetTile(ctx context.Context, id string) (*models.Tile, error)
	UpdateTile(ctx context.Context, id string, p models.TilePatch) (*models.Tile, error)
	CreateMessage(ctx context.Context, tileID, role, content string) (*models.Message, error)
}

type Options struct {
	// Timeout bounds a whole attempt. Zero disables it.
	Timeout         time.Duration
	MaxPromptTokens int
}

type Engine struct {
	provider  llm.Provider
	store     Store
	attempts  *Attempts
	finalizer *tile.Finalizer
	opts      Options
	log       *zap.Logger
}

func NewEngine(provider llm.Provider, store Store, log *zap.Logger, opts Options) *Engine {
	attempts := NewAttempts()
	return &Engine{
		provider: provider,
		store:    store,
		attempts: attempts,
		finalizer: &tile.Finalizer{
			Store: store,
			Guard: attempts.IsCurrent,
		},
		opts: opts,
		log:  log,
	}
}

// Abort cancels the generation running on tileID, if any.
func (e *Engine) Abort(tileID string) bool {
	return e.attempts.Cancel(tileID)
}

// Run is a generation whose model stream is open and ready to be relayed.
type Run struct {
	TileID         string
	AttemptID      string
	ContextVersion int64

	engine  *Engine
	parent  context.Context
	ctx     context.Context
	stop    context.CancelFunc
	stream  llm.Stream
	started time.Time
}

// Start prepares a generation and opens the model stream. Errors returned
// here happen before any text is produced: ErrPrecondition when nothing was
// attempted, llm.ErrNotConfigured or ErrUpstream when the attempt failed and
// the tile was marked as such.
func (e *Engine) Start(ctx context.Context, req Request) (*Run, error) {
	t, err := e.store.GetTile(ctx, req.TileID)
	if err != nil {
		return nil, fmt.Errorf("starting generation: %w", err)
	}
	candidate := *t
	candidate.BasePrompt = req.BasePrompt
	if !tile.CanGenerate(candidate, req.Company) {
		return nil, ErrPrecondition
	}

	status, err := tile.Transition(t.Status, tile.EventStart)
	if err != nil {
		return nil, fmt.Errorf("starting generation: %w", err)
	}
	attemptID, actx := e.attempts.Begin(ctx, t.ID)
	version := req.ContextVersion
	if _, err := e.store.UpdateTile(ctx, t.ID, models.TilePatch{
		Status:                &status,
		LastRunContextVersion: &version,
		AttemptID:             &attemptID,
	}); err != nil {
		e.attempts.Done(t.ID, attemptID)
		return nil, fmt.Errorf("starting generation: %w", err)
	}

	log := e.log.With(zap.String("tile_id", t.ID), zap.String("attempt_id", attemptID))

	if req.UserRefinement != nil && *req.UserRefinement != "" {
		if _, err := e.store.CreateMessage(ctx, t.ID, models.RoleUser, *req.UserRefinement); err != nil {
			log.Warn("recording refinement", zap.Error(err))
		}
	}

	user := prompt.Compose(*req.Company, req.BasePrompt, req.ExAnswer, req.LastAnswer, req.UserRefinement)
	tokens := prompt.EstimateTokens(prompt.SystemPrompt) + prompt.EstimateTokens(user)
	if e.opts.MaxPromptTokens > 0 && tokens > e.opts.MaxPromptTokens {
		log.Warn("prompt exceeds token budget", zap.Int("tokens", tokens), zap.Int("max", e.opts.MaxPromptTokens))
	}

	run := &Run{
		TileID:         t.ID,
		AttemptID:      attemptID,
		ContextVersion: version,
		engine:         e,
		parent:         ctx,
		ctx:            actx,
		stop:           func() {},
		started:        time.Now(),
	}
	if e.opts.Timeout > 0 {
		run.ctx, run.stop = context.WithTimeoutCause(actx, e.opts.Timeout, ErrTimeout)
	}

	log.Info("generation starting",
		zap.String("provider", e.provider.Name()),
		zap.Int64("context_version", version),
		zap.Int("prompt_tokens", tokens),
	)

	stream, err := e.provider.Open(run.ctx, llm.Request{System: prompt.SystemPrompt, User: user})
	if err != nil {
		err = run.cause(err)
		outcome := Classify(err)
		run.finish(outcome, "", err)
		run.release()
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			return nil, err
		case outcome == tile.OutcomeAborted:
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	run.stream = stream
	return run, nil
}

// Pipe relays every chunk to sink in arrival order, then persists the
// outcome. A sink error means the reader went away and aborts the attempt.
func (r *Run) Pipe(sink func(chunk string) error) tile.Terminal {
	defer r.release()

	var b strings.Builder
	for {
		chunk, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			return r.finish(tile.OutcomeCompleted, b.String(), nil)
		}
		if err != nil {
			err = r.cause(err)
			return r.finish(Classify(err), b.String(), err)
		}
		if chunk == "" {
			continue
		}
		b.WriteString(chunk)
		if err := sink(chunk); err != nil {
			return r.finish(tile.OutcomeAborted, b.String(), fmt.Errorf("writing chunk: %w", err))
		}
	}
}

// cause prefers the reason the attempt's context ended over the error it
// produced downstream.
func (r *Run) cause(err error) error {
	if r.ctx.Err() != nil {
		return context.Cause(r.ctx)
	}
	return err
}

func (r *Run) release() {
	if r.stream != nil {
		r.stream.Close()
	}
	r.stop()
	r.engine.attempts.Done(r.TileID, r.AttemptID)
}

func (r *Run) finish(outcome tile.Outcome, text string, err error) tile.Terminal {
	e := r.engine
	term := tile.Terminal{
		TileID:         r.TileID,
		AttemptID:      r.AttemptID,
		ContextVersion: r.ContextVersion,
		Outcome:        outcome,
		Text:           text,
		Err:            err,
	}
	log := e.log.With(zap.String("tile_id", r.TileID), zap.String("attempt_id", r.AttemptID))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.parent), finalizeTimeout)
	defer cancel()

	written, ferr := e.finalizer.Finalize(ctx, term)
	if ferr != nil {
		log.Error("finalizing generation", zap.Error(ferr))
	}
	if written && outcome == tile.OutcomeCompleted {
		if _, err := e.store.CreateMessage(ctx, r.TileID, models.RoleAssistant, text); err != nil {
			log.Warn("recording answer", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Stringer("outcome", outcome),
		zap.Bool("persisted", written),
		zap.Int("bytes", len(text)),
		zap.Duration("elapsed", time.Since(r.started)),
		zap.Int("live_attempts", e.attempts.Live()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if outcome == tile.OutcomeFailed {
		log.Warn("generation failed", fields...)
	} else {
		log.Info("generation finished", fields...)
	}
	return term
}

// Classify maps the error that ended an attempt to its outcome. Timeouts
// are failures; cancellation and supersession are aborts.
func Classify(err error) tile.Outcome {
	switch {
	case err == nil:
		return tile.OutcomeCompleted
	case errors.Is(err, ErrTimeout):
		return tile.OutcomeFailed
	case errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		return tile.OutcomeAborted
	}
	return tile.OutcomeFailed
}
