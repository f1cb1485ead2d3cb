package gate

import (
	"log/slog"
	"net/http"
)

// Stage is one admission check. Admit returns the request (possibly with an
// enriched context) to pass downstream, or a Rejection to stop the pipeline.
type Stage interface {
	Name() string
	Admit(r *http.Request) (*http.Request, *Rejection)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Func      func(r *http.Request) (*http.Request, *Rejection)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Admit(r *http.Request) (*http.Request, *Rejection) {
	return s.Func(r)
}

// Pipeline runs stages in a fixed order and short-circuits on the first
// rejection. Only fully admitted requests reach the downstream handler.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// NewPipeline builds a pipeline over the given stages. Order is significant:
// callers list signature verification before authentication before rate
// limiting.
func NewPipeline(logger *slog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger}
}

// Handler wraps next with the admission checks.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, stage := range p.stages {
			admitted, rejection := stage.Admit(r)
			if rejection != nil {
				p.logger.Debug("request rejected",
					slog.String("stage", stage.Name()),
					slog.String("reason", string(rejection.Reason)),
					slog.String("path", r.URL.Path),
				)
				rejection.Write(w, r)
				return
			}
			r = admitted
		}
		next.ServeHTTP(w, r)
	})
}
