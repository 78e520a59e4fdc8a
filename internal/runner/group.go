// Package runner coordinates the long-running loops of the process.
package runner

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Group runs named loops and waits for all of them to finish. A loop
// returning a non-nil error is logged; the remaining loops keep running
// until the shared context is cancelled.
type Group struct {
	log zerolog.Logger
	wg  sync.WaitGroup
}

// NewGroup creates a Group logging loop failures through log.
func NewGroup(log zerolog.Logger) *Group {
	return &Group{log: log.With().Str("component", "runner").Logger()}
}

// Go starts fn under the given name.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(ctx); err != nil {
			g.log.Error().Err(err).Str("loop", name).Msg("loop exited with error")
			return
		}
		g.log.Debug().Str("loop", name).Msg("loop exited")
	}()
}

// Wait blocks until every started loop has returned.
func (g *Group) Wait() { g.wg.Wait() }
