package farm

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oriys/tillage/internal/api/respond"
	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/store"
)

var boardNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// maxBoardTTL bounds the optional expiry of a board.
const maxBoardTTL = 90 * 24 * time.Hour

// Card is one task on a board lane.
type Card struct {
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
	Done     bool   `json:"done,omitempty"`
}

// Lane is a named column of cards.
type Lane struct {
	Name  string `json:"name"`
	Cards []Card `json:"cards"`
}

// Board is a task board kept in the tenant key-value store.
type Board struct {
	Name      string    `json:"name"`
	Lanes     []Lane    `json:"lanes"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type putBoardRequest struct {
	Lanes      []Lane `json:"lanes"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func boardKey(name string) string {
	return "board:" + name
}

func boardName(r *http.Request) (string, error) {
	name := strings.ToLower(strings.TrimSpace(r.PathValue("name")))
	if !boardNamePattern.MatchString(name) {
		return "", &store.ValidationError{Field: "name", Message: "must be 1-64 lowercase letters, digits, '_' or '-'"}
	}
	return name, nil
}

// GetBoard handles GET /boards/{name}
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	name, err := boardName(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	kv, err := h.KV.For(tc)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	raw, err := kv.Get(r.Context(), boardKey(name))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var b Board
	if err := json.Unmarshal(raw, &b); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, b)
}

// PutBoard handles PUT /boards/{name}
func (h *Handler) PutBoard(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	name, err := boardName(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	var req putBoardRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if req.TTLSeconds < 0 || req.TTLSeconds > int(maxBoardTTL/time.Second) {
		respond.Error(w, r, &store.ValidationError{Field: "ttl_seconds", Message: "must be between 0 and 90 days"})
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	for _, lane := range req.Lanes {
		if strings.TrimSpace(lane.Name) == "" {
			respond.Error(w, r, &store.ValidationError{Field: "lanes", Message: "lane name is required"})
			return
		}
	}
	if req.Lanes == nil {
		req.Lanes = []Lane{}
	}

	b := Board{Name: name, Lanes: req.Lanes, UpdatedAt: time.Now().UTC()}
	if id := auth.GetIdentity(r.Context()); id != nil {
		b.UpdatedBy = id.Subject
	}
	raw, err := json.Marshal(b)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	kv, err := h.KV.For(tc)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := kv.Set(r.Context(), boardKey(name), raw, ttl); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, b)
}

// DeleteBoard handles DELETE /boards/{name}
func (h *Handler) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	name, err := boardName(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	kv, err := h.KV.For(tc)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := kv.Delete(r.Context(), boardKey(name)); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
