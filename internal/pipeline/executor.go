package pipeline

import (
	"log/slog"
	"net/http"

	"github.com/tjfontaine/dynamic-gateway/internal/domain"
)

// Executor composes the stages, in order, into an http.Handler. The order
// is fixed at construction; no stage is skipped or reordered per request.
type Executor struct {
	stages    []Stage
	forwarder Forwarder
	logger    *slog.Logger
}

// NewExecutor builds an executor running stages in the given order.
func NewExecutor(stages []Stage, forwarder Forwarder, logger *slog.Logger) *Executor {
	return &Executor{
		stages:    stages,
		forwarder: forwarder,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

func (e *Executor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	committed := &commitWriter{ResponseWriter: w}
	ex := &Exchange{Request: r, Writer: committed}

	for _, stage := range e.stages {
		verdict, err := stage.Process(ctx, ex)
		if err != nil {
			// Stages convert their internal failures into domain
			// errors; map to a status, never a raw server error.
			e.logger.Warn("stage rejected request",
				slog.String("stage", stage.Name()),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			e.write(ex, Terminal(domain.StatusOf(err)))
			return
		}
		if verdict != nil {
			e.write(ex, verdict)
			return
		}
	}

	if err := e.forwarder.Forward(ctx, ex); err != nil {
		e.logger.Warn("forwarding failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		if !committed.committed {
			e.write(ex, Terminal(domain.StatusOf(err)))
		}
		return
	}

	ex.runDeferred()
}

func (e *Executor) write(ex *Exchange, v *Verdict) {
	header := ex.Writer.Header()
	for key, values := range v.Header {
		header[key] = values
	}
	ex.Writer.WriteHeader(v.Status)
	if len(v.Body) > 0 {
		ex.Writer.Write(v.Body)
	} else if v.Status >= 400 {
		ex.Writer.Write([]byte(http.StatusText(v.Status)))
	}
}

// commitWriter tracks whether anything was written to the client, so a
// forwarding failure after the backend started responding is not followed
// by a second status line.
type commitWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *commitWriter) WriteHeader(code int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the wrapper.
func (w *commitWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
