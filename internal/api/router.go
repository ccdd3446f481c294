package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/observability"
)

// UserHeader carries the authenticated owner id set by the identity proxy.
const UserHeader = "X-User-ID"

type ownerKey struct{}

// OwnerID returns the owner id stored by RequireOwner.
func OwnerID(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

// RequireOwner rejects requests without an owner id.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			writeError(w, r, campaign.ErrAuthRequired)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, id)))
	})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Router(h *Handler, db Pinger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if db != nil {
			if err := db.Ping(req.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/fields", h.Fields)

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner)
			r.Post("/estimate", h.Estimate)
			r.Post("/delivery", h.Delivery)

			r.Route("/campaigns", func(r chi.Router) {
				r.Get("/", h.ListCampaigns)
				r.Post("/", h.CreateCampaign)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetCampaign)
					r.Patch("/", h.UpdateCampaign)
					r.Delete("/", h.DeleteCampaign)
					r.Post("/rules", h.MutateCampaign)
					r.Post("/status", h.SetStatus)
					r.Post("/message", h.GenerateMessage)
					r.Get("/audience", h.Audience)
					r.Get("/analytics", h.Analytics)
				})
			})

			r.Route("/segments", func(r chi.Router) {
				r.Get("/", h.ListSegments)
				r.Post("/", h.CreateSegment)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetSegment)
					r.Patch("/", h.UpdateSegment)
					r.Delete("/", h.DeleteSegment)
					r.Post("/rules", h.MutateSegment)
					r.Get("/size", h.SegmentSize)
				})
			})
		})
	})
	return r
}
