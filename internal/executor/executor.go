// Package executor defines the boundary between the voice pipeline and the
// calendar. An [Executor] turns an [intent.Intent] into a side effect and
// reports the outcome as an [ActionResult]; the pipeline speaks the
// result's message and never inspects what the executor did.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxcal/internal/intent"
)

// ActionResult is the outcome of executing an intent.
type ActionResult struct {
	// Success reports whether the operation took effect.
	Success bool `json:"success"`

	// Message is spoken (or displayed) to the user.
	Message string `json:"message"`

	// NeedsMoreInfo asks the pipeline to listen for a follow-up utterance.
	NeedsMoreInfo bool `json:"needs_more_info,omitempty"`

	// Payload carries optional structured data, e.g. a list of events.
	Payload any `json:"payload,omitempty"`
}

// Executor carries out a parsed intent.
//
// Execute must honour ctx cancellation. A returned error means the executor
// itself failed; an operation that was understood but refused should be
// reported as an ActionResult with Success == false instead.
type Executor interface {
	Execute(ctx context.Context, in intent.Intent) (ActionResult, error)
}

// Func adapts an ordinary function to the Executor interface.
type Func func(ctx context.Context, in intent.Intent) (ActionResult, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, in intent.Intent) (ActionResult, error) {
	return f(ctx, in)
}

// ErrUnsupported is returned by executors for commands they do not handle.
var ErrUnsupported = errors.New("executor: unsupported command")

// Echo acknowledges every command without side effects. It is useful for
// demos and for exercising the pipeline without a calendar backend.
type Echo struct{}

var (
	_ Executor = Echo{}
	_ Executor = Func(nil)
)

// Execute implements Executor.
func (Echo) Execute(_ context.Context, in intent.Intent) (ActionResult, error) {
	if in.IsUnknown() {
		return ActionResult{Message: "Sorry, I didn't understand that."}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "OK, %s", strings.ReplaceAll(in.Command, "_", " "))
	for _, p := range in.Params {
		fmt.Fprintf(&b, ", %s %s", p.Name, p.Value)
	}
	b.WriteString(".")
	return ActionResult{Success: true, Message: b.String()}, nil
}
