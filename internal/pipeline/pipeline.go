// Package pipeline runs each inbound request through an ordered chain of
// stages. A stage either produces a terminal verdict, ending the request,
// or delegates to the next stage; requests that clear every stage are
// handed to the forwarder.
package pipeline

import (
	"context"
	"net/http"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
)

// Exchange is the per-request carrier threaded through the stages. Stages
// may rewrite the request, replace the writer, and attach what they have
// resolved for later stages. An Exchange is confined to one request's
// goroutine; it needs no locking.
type Exchange struct {
	Request *http.Request
	Writer  http.ResponseWriter

	// Route is the matched route, set by the first stage that resolves it.
	Route *domain.RouteDefinition
	// Service is the route's service definition, when the store knows it.
	Service *domain.ServiceDefinition
	// Subject is the authenticated user id, set by the auth stage.
	Subject string

	deferred []func()
}

// Defer registers fn to run after the forwarder has produced the response.
// Deferred functions run in registration order and only when the request
// actually reached the forwarder.
func (ex *Exchange) Defer(fn func()) {
	ex.deferred = append(ex.deferred, fn)
}

func (ex *Exchange) runDeferred() {
	for _, fn := range ex.deferred {
		fn()
	}
}

// Verdict is a terminal response produced by a stage. A nil Verdict from a
// stage means delegate to the next one.
type Verdict struct {
	Status int
	Header http.Header
	Body   []byte
}

// Terminal builds a bare verdict carrying only a status code.
func Terminal(status int) *Verdict {
	return &Verdict{Status: status}
}

// Stage is one link of the chain.
type Stage interface {
	Name() string
	Process(ctx context.Context, ex *Exchange) (*Verdict, error)
}

// Forwarder hands an approved request to the backend and streams the
// response into the exchange's writer.
type Forwarder interface {
	Forward(ctx context.Context, ex *Exchange) error
}
