package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sitewatch-core/internal/audit"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/site"
)

// siteResponse is a site with its member controllers.
type siteResponse struct {
	*site.Site
	Controllers []controller.Controller `json:"controllers"`
}

// handleListSites lists all sites with their cached status.
func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.sites.List(r.Context())
	if err != nil {
		s.logger.Error("listing sites failed", "error", err)
		writeInternalError(w, "failed to list sites")
		return
	}
	if sites == nil {
		sites = []site.Site{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites, "count": len(sites)})
}

// handleGetSite returns a site and its members.
func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.sites.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			writeNotFound(w, "site not found")
			return
		}
		s.logger.Error("loading site failed", "site_id", id, "error", err)
		writeInternalError(w, "failed to load site")
		return
	}

	members, err := s.controllers.ListBySite(r.Context(), id)
	if err != nil {
		s.logger.Error("listing site members failed", "site_id", id, "error", err)
		writeInternalError(w, "failed to list site controllers")
		return
	}
	if members == nil {
		members = []controller.Controller{}
	}

	writeJSON(w, http.StatusOK, siteResponse{Site: st, Controllers: members})
}

// handlePutSite creates a site or renames it. Status is never taken from
// the body; it is derived from the members.
func (s *Server) handlePutSite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	st := &site.Site{ID: id, Name: strings.TrimSpace(req.Name)}
	if err := s.sites.Upsert(r.Context(), st); err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("saving site failed", "site_id", id, "error", err)
		writeInternalError(w, "failed to save site")
		return
	}

	s.recordAudit(r, audit.Entry{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntitySite,
		EntityID:   id,
		Details:    map[string]any{"name": st.Name},
	})
	s.recalculateSites(r, id)

	stored, err := s.sites.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("reloading site failed", "site_id", id, "error", err)
		writeInternalError(w, "failed to load site")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// handleRecalculateSite re-derives a site's status from its members.
// An unknown site is created on demand, matching the scheduler.
func (s *Server) handleRecalculateSite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.siteService.RecalculateStatus(r.Context(), id); err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("site recalculation failed", "site_id", id, "error", err)
		writeInternalError(w, "failed to recalculate site")
		return
	}

	st, err := s.sites.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("reloading site failed", "site_id", id, "error", err)
		writeInternalError(w, "failed to load site")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
