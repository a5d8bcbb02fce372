package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sitewatch-core/internal/audit"
	"github.com/nerrad567/sitewatch-core/internal/controller"
)

// controllerRequest is the body of POST /controllers.
type controllerRequest struct {
	Name   string            `json:"name"`
	Code   string            `json:"code"`
	Host   string            `json:"host"`
	Port   int               `json:"port"`
	SiteID *string           `json:"site_id"`
	Config controller.Config `json:"config"`
}

// controllerPatchRequest is the body of PATCH /controllers/{id}.
// SiteID is raw so an explicit null can be told apart from an absent field.
type controllerPatchRequest struct {
	Name   *string            `json:"name"`
	Code   *string            `json:"code"`
	Host   *string            `json:"host"`
	Port   *int               `json:"port"`
	Status *controller.Status `json:"status"`
	Config *controller.Config `json:"config"`
	SiteID json.RawMessage    `json:"site_id"`
}

// toPatch converts the request into a repository patch.
func (req controllerPatchRequest) toPatch() (controller.Patch, error) {
	patch := controller.Patch{
		Name:   req.Name,
		Code:   req.Code,
		Host:   req.Host,
		Port:   req.Port,
		Status: req.Status,
		Config: req.Config,
	}
	if len(req.SiteID) == 0 {
		return patch, nil
	}
	if bytes.Equal(bytes.TrimSpace(req.SiteID), []byte("null")) {
		patch.ClearSite = true
		return patch, nil
	}
	var siteID string
	if err := json.Unmarshal(req.SiteID, &siteID); err != nil {
		return patch, errors.New("site_id must be a string or null")
	}
	patch.SiteID = &siteID
	return patch, nil
}

// handleListControllers lists controllers, optionally filtered and sorted.
func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter controller.Filter
	if siteID := q.Get("site_id"); siteID != "" {
		filter.SiteID = &siteID
	}
	filter.Code = q.Get("code")
	if status := q.Get("status"); status != "" {
		filter.Status = controller.Status(strings.ToUpper(status))
		if !filter.Status.Valid() {
			writeBadRequest(w, "invalid status filter: "+status)
			return
		}
	}

	sort := controller.Sort{Field: q.Get("sort")}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		sort.Desc = true
	default:
		writeBadRequest(w, "order must be asc or desc")
		return
	}

	controllers, err := s.controllers.FindAllWithoutPagination(r.Context(), filter, sort)
	if err != nil {
		if errors.Is(err, controller.ErrInvalidSort) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("listing controllers failed", "error", err)
		writeInternalError(w, "failed to list controllers")
		return
	}
	if controllers == nil {
		controllers = []controller.Controller{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"controllers": controllers,
		"count":       len(controllers),
	})
}

// handleCreateController registers a controller. Its status starts UNKNOWN.
func (s *Server) handleCreateController(w http.ResponseWriter, r *http.Request) {
	var req controllerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ctrl := &controller.Controller{
		Name:   req.Name,
		Code:   req.Code,
		Host:   req.Host,
		Port:   req.Port,
		Status: controller.StatusUnknown,
		SiteID: req.SiteID,
		Config: req.Config,
	}

	if err := s.controllers.Create(r.Context(), ctrl); err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("creating controller failed", "error", err)
		writeInternalError(w, "failed to create controller")
		return
	}

	if !s.adapterSupported(ctrl) {
		s.logger.Warn("controller registered with unsupported protocol",
			"controller_id", ctrl.ID,
			"code", ctrl.Code,
		)
	}
	s.recordAudit(r, audit.Entry{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityController,
		EntityID:   strconv.FormatInt(ctrl.ID, 10),
		Details:    map[string]any{"name": ctrl.Name, "code": ctrl.Code, "site_id": ctrl.SiteKey()},
	})
	s.recalculateSites(r, ctrl.SiteKey())

	writeJSON(w, http.StatusCreated, ctrl)
}

// handleGetController returns a single controller.
func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.loadController(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl)
}

// handleUpdateController applies a partial update. Moving a controller
// between sites, or changing its status, refreshes the affected sites.
func (s *Server) handleUpdateController(w http.ResponseWriter, r *http.Request) {
	id, ok := parseControllerID(w, r)
	if !ok {
		return
	}

	var req controllerPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if patch.Status != nil {
		upper := controller.Status(strings.ToUpper(string(*patch.Status)))
		patch.Status = &upper
	}

	before, err := s.controllers.GetByID(r.Context(), id)
	if err != nil {
		s.writeControllerLookupError(w, id, err)
		return
	}

	updated, err := s.controllers.Update(r.Context(), id, patch)
	if err != nil {
		switch {
		case errors.Is(err, controller.ErrNotFound):
			writeNotFound(w, "controller not found")
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("updating controller failed", "controller_id", id, "error", err)
			writeInternalError(w, "failed to update controller")
		}
		return
	}

	s.recordAudit(r, audit.Entry{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityController,
		EntityID:   strconv.FormatInt(id, 10),
		Details:    changedFields(before, updated),
	})

	if before.SiteKey() != updated.SiteKey() || before.Status != updated.Status {
		s.recalculateSites(r, before.SiteKey(), updated.SiteKey())
	}

	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteController removes a controller and refreshes its former site.
func (s *Server) handleDeleteController(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.loadController(w, r)
	if !ok {
		return
	}

	if err := s.controllers.Delete(r.Context(), ctrl.ID); err != nil {
		if errors.Is(err, controller.ErrNotFound) {
			writeNotFound(w, "controller not found")
			return
		}
		s.logger.Error("deleting controller failed", "controller_id", ctrl.ID, "error", err)
		writeInternalError(w, "failed to delete controller")
		return
	}

	s.recordAudit(r, audit.Entry{
		Action:     audit.ActionDelete,
		EntityType: audit.EntityController,
		EntityID:   strconv.FormatInt(ctrl.ID, 10),
		Details:    map[string]any{"name": ctrl.Name, "code": ctrl.Code},
	})
	s.recalculateSites(r, ctrl.SiteKey())
	w.WriteHeader(http.StatusNoContent)
}

// loadController resolves the {id} URL parameter, writing the error
// response itself when it cannot.
func (s *Server) loadController(w http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	id, ok := parseControllerID(w, r)
	if !ok {
		return nil, false
	}
	ctrl, err := s.controllers.GetByID(r.Context(), id)
	if err != nil {
		s.writeControllerLookupError(w, id, err)
		return nil, false
	}
	return ctrl, true
}

func (s *Server) writeControllerLookupError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, controller.ErrNotFound) {
		writeNotFound(w, "controller not found")
		return
	}
	s.logger.Error("loading controller failed", "controller_id", id, "error", err)
	writeInternalError(w, "failed to load controller")
}

// changedFields lists the administrative fields an update changed.
func changedFields(before, after *controller.Controller) map[string]any {
	changed := make(map[string]any)
	if before.Name != after.Name {
		changed["name"] = after.Name
	}
	if before.Code != after.Code {
		changed["code"] = after.Code
	}
	if before.Host != after.Host || before.Port != after.Port {
		changed["address"] = after.Address(0)
	}
	if before.Status != after.Status {
		changed["status"] = string(after.Status)
	}
	if before.SiteKey() != after.SiteKey() {
		changed["site_id"] = after.SiteKey()
	}
	return changed
}

func parseControllerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "controller id must be a positive integer")
		return 0, false
	}
	return id, true
}

// adapterSupported reports whether a protocol is registered for ctrl.
func (s *Server) adapterSupported(ctrl *controller.Controller) bool {
	code := ctrl.ProtocolCode()
	for _, p := range s.adapters.Protocols() {
		if p == code {
			return true
		}
	}
	return false
}

// recalculateSites refreshes each distinct non-empty site. Failures are
// logged; the next health cycle corrects any stale status.
func (s *Server) recalculateSites(r *http.Request, siteIDs ...string) {
	seen := make(map[string]struct{}, len(siteIDs))
	for _, id := range siteIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := s.siteService.RecalculateStatus(r.Context(), id); err != nil {
			s.logger.Warn("site recalculation after edit failed",
				"site_id", id,
				"error", err,
				"request_id", requestID(r.Context()),
			)
		}
	}
}
