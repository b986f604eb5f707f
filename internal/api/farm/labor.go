package farm

import (
	"net/http"

	"github.com/oriys/tillage/internal/api/respond"
	"github.com/oriys/tillage/internal/store"
)

// ListLabor handles GET /labor
func (h *Handler) ListLabor(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	entries, err := h.Store.Labor.List(r.Context(), tc, queryInt(r, "limit", 100, 500))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if entries == nil {
		entries = []store.LaborEntry{}
	}
	respond.JSON(w, http.StatusOK, entries)
}

// CreateLabor handles POST /labor
func (h *Handler) CreateLabor(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var in store.LaborInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, err)
		return
	}
	entry, err := h.Store.Labor.Create(r.Context(), tc, in)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, entry)
}

// LaborSummary handles GET /labor/summary
func (h *Handler) LaborSummary(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	summary, err := h.Store.Labor.Summary(r.Context(), tc)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if summary.ByWorker == nil {
		summary.ByWorker = []store.HoursBucket{}
	}
	if summary.ByTask == nil {
		summary.ByTask = []store.HoursBucket{}
	}
	respond.JSON(w, http.StatusOK, summary)
}
