package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scrypster/contactcard/internal/credits"
	"github.com/scrypster/contactcard/internal/llm"
)

var pipelineCallsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "contactcard",
		Subsystem: "pipeline",
		Name:      "calls_total",
		Help:      "Extraction and query calls by outcome.",
	},
	[]string{"op", "result"},
)

// outcome labels err for the calls counter.
func outcome(err error) string {
	var (
		rf *llm.RequestFailure
		uf *llm.UpstreamFailure
		mr *llm.MalformedResponse
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, credits.ErrInsufficient):
		return "no_credits"
	case errors.As(err, &rf):
		return "request_failure"
	case errors.As(err, &uf):
		return "upstream_failure"
	case errors.As(err, &mr):
		return "malformed"
	default:
		return "error"
	}
}

func observe(op string, err error) {
	pipelineCallsTotal.WithLabelValues(op, outcome(err)).Inc()
}
