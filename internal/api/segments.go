package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/segment"
)

type segmentRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Rules       *segment.Group `json:"rules"`
}

func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.ListSegments(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if !decode(w, r, &req) {
		return
	}
	sg, err := h.Svc.CreateSegment(r.Context(), OwnerID(r.Context()), req.Name, req.Description, req.Rules)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sg)
}

func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	sg, err := h.Svc.GetSegment(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (h *Handler) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	var p campaign.SegmentPatch
	if !decode(w, r, &p) {
		return
	}
	sg, err := h.Svc.UpdateSegment(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (h *Handler) MutateSegment(w http.ResponseWriter, r *http.Request) {
	var m campaign.Mutation
	if !decode(w, r, &m) {
		return
	}
	sg, err := h.Svc.MutateSegment(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (h *Handler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteSegment(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SegmentSize(w http.ResponseWriter, r *http.Request) {
	est, err := h.Svc.SegmentSize(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}
