package farm

import (
	"net/http"

	"github.com/oriys/tillage/internal/api/respond"
	"github.com/oriys/tillage/internal/store"
)

// ListInventory handles GET /inventory
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	items, err := h.Store.Inventory.List(r.Context(), tc, r.URL.Query().Get("category"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if items == nil {
		items = []store.InventoryItem{}
	}
	respond.JSON(w, http.StatusOK, items)
}

// CreateInventory handles POST /inventory
func (h *Handler) CreateInventory(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var in store.InventoryInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, err)
		return
	}
	item, err := h.Store.Inventory.Create(r.Context(), tc, in)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, item)
}

// GetInventory handles GET /inventory/{id}
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	item, err := h.Store.Inventory.Get(r.Context(), tc, r.PathValue("id"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, item)
}

// UpdateInventory handles PATCH /inventory/{id}
func (h *Handler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var patch store.InventoryPatch
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, r, err)
		return
	}
	item, err := h.Store.Inventory.Update(r.Context(), tc, r.PathValue("id"), patch)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, item)
}

// DeleteInventory handles DELETE /inventory/{id}
func (h *Handler) DeleteInventory(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	if err := h.Store.Inventory.Delete(r.Context(), tc, r.PathValue("id")); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
