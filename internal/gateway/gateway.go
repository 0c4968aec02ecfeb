// Package gateway sends one audio segment to a remote service and gets back a
// transcription and its translation.
package gateway

import (
	"context"
	"errors"

	"github.com/jwulff/sequent/internal/lang"
)

var (
	// ErrGatewayFailure covers transport errors, non-2xx statuses and
	// service-side errors such as quota or an unknown model.
	ErrGatewayFailure = errors.New("gateway failure")

	// ErrMalformedResponse is returned when the call succeeded but the
	// result was empty, unparseable or missing a field.
	ErrMalformedResponse = errors.New("malformed gateway response")
)

// Request is one segment to interpret.
type Request struct {
	Audio    []byte
	MIMEType string
	Source   lang.Language
	Target   lang.Language
}

// Result holds trimmed texts. Both empty means no speech was heard.
type Result struct {
	Original   string
	Translated string
}

// Gateway submits segments. Implementations must be safe for concurrent use;
// calls for different segments may be in flight at the same time.
type Gateway interface {
	Submit(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to the Gateway interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Submit(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
