package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/generation"
	"campaign-targeting/internal/observability"
	"campaign-targeting/internal/segment"
)

type errorBody struct {
	Error  string            `json:"error"`
	Reason string            `json:"reason,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError maps a service error to its HTTP status and body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *campaign.ValidationError
		perr *campaign.PersistenceError
		gerr *generation.Error
	)
	status, kind := http.StatusInternalServerError, "internal"
	body := errorBody{Error: err.Error()}

	switch {
	case errors.As(err, &verr):
		status, kind = http.StatusUnprocessableEntity, "validation"
		body = errorBody{Error: "validation failed", Fields: verr.Fields}
	case errors.Is(err, campaign.ErrAuthRequired):
		status, kind = http.StatusUnauthorized, "auth"
	case errors.Is(err, campaign.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, campaign.ErrFrozen), errors.Is(err, campaign.ErrInvalidTransition):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, campaign.ErrUnknownMutation), errors.Is(err, segment.ErrMalformedTree):
		status, kind = http.StatusBadRequest, "bad_request"
	case errors.As(err, &perr):
		status, kind = http.StatusBadGateway, "persistence"
		body = errorBody{Error: "the data store rejected the request; your changes were not saved"}
	case errors.As(err, &gerr):
		kind = "generation"
		body = errorBody{Error: generation.UserMessage(err), Reason: gerr.Reason.Error()}
		switch {
		case errors.Is(err, generation.ErrRateLimited):
			status = http.StatusTooManyRequests
		case errors.Is(err, generation.ErrServiceUnavailable):
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadGateway
		}
	case errors.Is(err, context.DeadlineExceeded):
		status, kind = http.StatusGatewayTimeout, "timeout"
	}

	observability.RequestErrors.WithLabelValues(kind).Inc()
	ev := log.Warn()
	if status >= 500 {
		ev = log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	observability.RequestErrors.WithLabelValues("bad_request").Inc()
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
