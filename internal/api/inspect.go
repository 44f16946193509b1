package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

const (
	defaultResourceLimit = 100
	maxResourceLimit     = 1000
	defaultPassLimit     = 50
	maxPassLimit         = 500
	handlerTimeout       = 3 * time.Second
)

// getStatus handles GET /v1/status. It returns {"passes": [...]} with the
// most recently started passes first, or 503 when no status board is wired.
func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status board unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": s.status.Snapshot()})
}

// listPortals handles GET /v1/portals. It returns {"portals": [...]} with
// the configured portals and their effective settings, defaults applied.
func (s *Server) listPortals(w http.ResponseWriter, _ *http.Request) {
	out := make([]portalDTO, 0, len(s.cfg.Portals))
	for _, portal := range s.cfg.Portals {
		out = append(out, toPortalDTO(portal))
	}
	writeJSON(w, http.StatusOK, map[string]any{"portals": out})
}

// listResources handles GET /v1/portals/{portal}/resources?limit=&offset=.
// It returns {"portal": ..., "total": N, "resources": [...]} on success,
// 400 for invalid query parameters, 503 when the state store is missing,
// or 500 if the snapshot fails. Cached descriptors are summarized to their
// byte size; GET /v1/portals/{portal}/resource returns the full entry.
func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	portal := chi.URLParam(r, "portal")
	limit, offset, err := parseLimitOffset(r, defaultResourceLimit, maxResourceLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	entries, err := s.store.Iterate(ctx, portal)
	if err != nil {
		s.logger.Error("state snapshot failed", zap.String("portal", portal), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list resources")
		return
	}
	total := len(entries)
	entries = window(entries, offset, limit)
	out := make([]resourceStateDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toResourceStateDTO(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"portal":    portal,
		"total":     total,
		"resources": out,
	})
}

// getResource handles GET /v1/portals/{portal}/resource?id=. The resource
// ID travels as a query parameter because listing-derived IDs are URLs and
// would not survive a path segment. The response carries the full state
// entry including the cached descriptor, or 404 when the resource has
// never been seen.
func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	portal := chi.URLParam(r, "portal")
	resourceID := strings.TrimSpace(r.URL.Query().Get("id"))
	if resourceID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	entry, err := s.store.Get(ctx, portal, resourceID)
	if err != nil {
		if errors.Is(err, glossary.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		s.logger.Error("state lookup failed", zap.String("portal", portal), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load resource")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource": toResourceDetailDTO(entry)})
}

// listPasses handles GET /v1/portals/{portal}/passes?limit=. It returns
// {"portal": ..., "passes": [...]} newest-first, 400 for an invalid limit,
// 503 when the pass log is missing, or 500 for pass log errors.
func (s *Server) listPasses(w http.ResponseWriter, r *http.Request) {
	if s.passes == nil {
		writeError(w, http.StatusServiceUnavailable, "pass log unavailable")
		return
	}
	portal := chi.URLParam(r, "portal")
	limit, err := parseLimit(r, defaultPassLimit, maxPassLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	records, err := s.passes.ListPasses(ctx, portal, limit)
	if err != nil {
		s.logger.Error("pass history failed", zap.String("portal", portal), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list passes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portal": portal, "passes": records})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limit := def
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	return limit, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	limit, err := parseLimit(r, def, maxLimit)
	if err != nil {
		return 0, 0, err
	}
	offset := 0
	if offStr := r.URL.Query().Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

// portalDTO reports a portal with its effective settings, so operators see
// the page size and cooldown the crawler will actually use.
type portalDTO struct {
	ID           string  `json:"id"`
	Platform     string  `json:"platform"`
	Endpoint     string  `json:"endpoint"`
	PageSize     int     `json:"page_size"`
	RateLimit    float64 `json:"rate_limit,omitempty"`
	RateBurst    int     `json:"rate_burst,omitempty"`
	Cooldown     string  `json:"cooldown"`
	ResolveLinks bool    `json:"resolve_links,omitempty"`
}

func toPortalDTO(p glossary.PortalConfig) portalDTO {
	return portalDTO{
		ID:           p.ID,
		Platform:     string(p.Platform),
		Endpoint:     p.Endpoint,
		PageSize:     p.PageSizeOrDefault(),
		RateLimit:    p.RateLimit,
		RateBurst:    p.RateBurst,
		Cooldown:     p.CooldownOrDefault().String(),
		ResolveLinks: p.ResolveLinks,
	}
}

type resourceStateDTO struct {
	ResourceID      string     `json:"resource_id"`
	Hash            string     `json:"hash,omitempty"`
	Signal          string     `json:"signal,omitempty"`
	LastSuccess     *time.Time `json:"last_success,omitempty"`
	Failures        int        `json:"failures"`
	LastError       string     `json:"last_error,omitempty"`
	DescriptorBytes int        `json:"descriptor_bytes"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type resourceDetailDTO struct {
	resourceStateDTO
	Descriptor json.RawMessage `json:"descriptor,omitempty"`
}

func toResourceStateDTO(e glossary.StateEntry) resourceStateDTO {
	dto := resourceStateDTO{
		ResourceID:      e.ResourceID,
		Hash:            e.Hash,
		Signal:          e.Signal,
		Failures:        e.Failures,
		LastError:       e.LastError,
		DescriptorBytes: len(e.Descriptor),
		UpdatedAt:       e.UpdatedAt,
	}
	if !e.LastSuccess.IsZero() {
		ts := e.LastSuccess
		dto.LastSuccess = &ts
	}
	return dto
}

func toResourceDetailDTO(e glossary.StateEntry) resourceDetailDTO {
	return resourceDetailDTO{
		resourceStateDTO: toResourceStateDTO(e),
		Descriptor:       e.Descriptor,
	}
}
