package stage

import (
	"context"

	"stagecoach/internal/session"
)

// Handler describes the contract the launcher needs from each pipeline stage.
// Prepare resolves stage inputs and fails fast on missing preconditions,
// Execute performs the stage work, and Cleanup runs when an abort interrupts
// the stage so partial state stays recoverable.
type Handler interface {
	Prepare(context.Context, *session.Session) error
	Execute(context.Context, *session.Session) error
	Cleanup(context.Context, *session.Session) error
	HealthCheck(context.Context) Health
}

// Gate is a precondition check evaluated before a stage executes. A gate
// failure routes the run to failed without entering the stage.
type Gate func(context.Context, *session.Session) error
