package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/engine"
	"campaign-targeting/internal/segment"
)

// Handler exposes the authoring service and delivery matching over
// HTTP/JSON.
type Handler struct {
	Svc *campaign.Service
	Eng *engine.DeliveryEngine
}

func NewHandler(svc *campaign.Service, eng *engine.DeliveryEngine) *Handler {
	return &Handler{Svc: svc, Eng: eng}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) Fields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Svc.Catalog().ListFields())
}

func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	tree := &segment.Group{}
	if !decode(w, r, tree) {
		return
	}
	est, err := h.Svc.Estimate(r.Context(), OwnerID(r.Context()), tree)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.List(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var d campaign.Draft
	if !decode(w, r, &d) {
		return
	}
	c, err := h.Svc.Create(r.Context(), OwnerID(r.Context()), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Svc.Get(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var p campaign.Patch
	if !decode(w, r, &p) {
		return
	}
	c, err := h.Svc.Update(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MutateCampaign(w http.ResponseWriter, r *http.Request) {
	var m campaign.Mutation
	if !decode(w, r, &m) {
		return
	}
	c, err := h.Svc.Mutate(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	to, ok := campaign.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, &campaign.ValidationError{Fields: map[string]string{"status": "Unknown status " + req.Status}})
		return
	}
	c, err := h.Svc.SetStatus(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"), to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GenerateMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Svc.GenerateMessage(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type audienceResponse struct {
	AudienceSize  int    `json:"audience_size"`
	Authoritative bool   `json:"authoritative"`
	Pending       bool   `json:"pending"`
	Version       uint64 `json:"version,omitempty"`
}

// Audience reports the live estimate of the campaign's current tree. While
// that estimate is in flight the stored size is returned with pending set.
func (h *Handler) Audience(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Svc.Get(r.Context(), OwnerID(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, ok, pending := h.Svc.Audience(OwnerID(r.Context()), id)
	if ok && res.Err == nil {
		writeJSON(w, http.StatusOK, audienceResponse{
			AudienceSize:  res.Estimate.Size,
			Authoritative: res.Estimate.Authoritative,
			Version:       res.Version,
		})
		return
	}
	writeJSON(w, http.StatusOK, audienceResponse{AudienceSize: c.AudienceSize, Pending: pending})
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Analytics(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Delivery lists the caller's active campaigns that target the posted
// customer record.
func (h *Handler) Delivery(w http.ResponseWriter, r *http.Request) {
	rec := segment.Record{}
	if !decode(w, r, &rec) {
		return
	}
	writeJSON(w, http.StatusOK, h.Eng.Match(r.Context(), OwnerID(r.Context()), rec))
}
