// Package cancel implements cooperative run cancellation. A single listener
// goroutine is the only writer of the stop flag; drivers and the traversal
// loop poll it at two checkpoints. A started question always runs to
// completion before the run halts, so no partial-answer state is ever left
// on the server.
package cancel

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Token is the per-run stop flag plus the busy markers that gate the unit
// checkpoint. It is created at run start and set at most once.
type Token struct {
	stopped    atomic.Bool
	inQuestion atomic.Bool
	inUnit     atomic.Bool
}

func NewToken() *Token { return &Token{} }

// Stop requests a halt. Safe to call more than once; later calls are no-ops.
func (t *Token) Stop() { t.stopped.Store(true) }

// Stopped reports whether a halt has been requested.
func (t *Token) Stopped() bool { return t.stopped.Load() }

// BeginQuestion and EndQuestion bracket one question's submission.
func (t *Token) BeginQuestion() { t.inQuestion.Store(true) }
func (t *Token) EndQuestion()   { t.inQuestion.Store(false) }

// BeginUnit and EndUnit bracket one unit's finalization window.
func (t *Token) BeginUnit() { t.inUnit.Store(true) }
func (t *Token) EndUnit()   { t.inUnit.Store(false) }

// CheckpointQuestion is consulted before starting a new question. A requested
// stop is always honored here.
func (t *Token) CheckpointQuestion() bool { return t.stopped.Load() }

// CheckpointUnit is consulted before starting a new unit. The stop is honored
// only when no question or unit finalization is in flight, so in-progress
// work drains first.
func (t *Token) CheckpointUnit() bool {
	return t.stopped.Load() && !t.inQuestion.Load() && !t.inUnit.Load()
}

// Coordinator owns the listener goroutine that translates an external stop
// signal into the token write.
type Coordinator struct {
	token *Token
	log   *zap.Logger
}

func NewCoordinator(token *Token, log *zap.Logger) *Coordinator {
	return &Coordinator{token: token, log: log}
}

// Listen blocks until the signal channel fires or ctx ends, setting the
// token on a signal. Run it in its own goroutine; it is the token's only
// writer.
func (c *Coordinator) Listen(ctx context.Context, signal <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-signal:
		c.log.Info("stop requested, finishing in-flight work before halting")
		c.token.Stop()
	}
}
