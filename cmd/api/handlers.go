package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tutorflow/auth"
	"tutorflow/dispute"
)

const maxBodyBytes = 64 << 10

type createDisputeRequest struct {
	BookingSlotID string   `json:"bookingSlotId"`
	ReasonCode    *int     `json:"reasonCode"`
	ReasonDetail  string   `json:"reasonDetail"`
	EvidenceURLs  []string `json:"evidenceUrls"`
}

type respondRequest struct {
	ResponseText string `json:"responseText"`
}

type resolveRequest struct {
	ResolutionCode *int   `json:"resolutionCode"`
	StaffNotes     string `json:"staffNotes"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "catalog not loaded")
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Statuses:    s.catalog.Statuses,
		Resolutions: s.catalog.Resolutions,
		Reasons:     s.catalog.Reasons,
	})
}

func (s *Server) handleDisputableSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	if actor.Role != auth.RoleLearner {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "only learners file disputes")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	slots, err := s.slotService.ListDisputable(r.Context(), actor.ID, limit)
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}

	items := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		items = append(items, toSlotResponse(slot))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	if actor.Role != auth.RoleLearner {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "only learners can open disputes")
		return
	}

	var req createDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReasonCode == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "reasonCode is required")
		return
	}

	d, err := s.disputeService.Create(r.Context(), dispute.CreateParams{
		LearnerID:     actor.ID,
		BookingSlotID: strings.TrimSpace(req.BookingSlotID),
		Reason:        dispute.Reason{Code: dispute.ReasonCode(*req.ReasonCode), Detail: req.ReasonDetail},
		EvidenceURLs:  req.EvidenceURLs,
	})
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toDisputeResponse(d, actor))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}
	q := r.URL.Query()

	if actor.Role.IsStaff() {
		s.listForStaff(w, r, actor)
		return
	}

	onlyActive := false
	if raw := q.Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "active must be true or false")
			return
		}
		onlyActive = v
	}

	var (
		list []dispute.Dispute
		err  error
	)
	switch actor.Role {
	case auth.RoleLearner:
		list, err = s.disputeService.ListForLearner(r.Context(), actor.ID, onlyActive)
	case auth.RoleTutor:
		list, err = s.disputeService.ListForTutor(r.Context(), actor.ID, onlyActive)
	default:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "role cannot list disputes")
		return
	}
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}

	items := make([]disputeResponse, 0, len(list))
	for _, d := range list {
		items = append(items, s.toDisputeResponse(d, actor))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) listForStaff(w http.ResponseWriter, r *http.Request, actor dispute.Actor) {
	q := r.URL.Query()

	page, ok := intParam(w, q.Get("page"), 1, "page")
	if !ok {
		return
	}
	pageSize, ok := intParam(w, q.Get("pageSize"), dispute.DefaultPageSize, "pageSize")
	if !ok {
		return
	}

	filter := dispute.StaffFilter{SearchTerm: q.Get("q")}
	if raw := q.Get("status"); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be a numeric code")
			return
		}
		status := dispute.Status(code)
		filter.Status = &status
	}

	result, err := s.disputeService.ListForStaff(r.Context(), actor, filter, page, pageSize)
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}

	items := make([]disputeResponse, 0, len(result.Items))
	for _, d := range result.Items {
		items = append(items, s.toDisputeResponse(d, actor))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"page":       page,
		"pageSize":   pageSize,
		"totalItems": result.TotalItems,
		"totalPages": result.TotalPages,
	})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	d, err := s.disputeService.Get(r.Context(), chi.URLParam(r, "disputeID"), actor)
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDisputeResponse(d, actor))
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req respondRequest
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := s.disputeService.Respond(r.Context(), chi.URLParam(r, "disputeID"), actor.ID, req.ResponseText)
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDisputeResponse(d, actor))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	d, err := s.disputeService.Withdraw(r.Context(), chi.URLParam(r, "disputeID"), actor.ID)
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDisputeResponse(d, actor))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ResolutionCode == nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "resolutionCode is required")
		return
	}

	d, err := s.disputeService.Resolve(r.Context(), chi.URLParam(r, "disputeID"), actor,
		dispute.Resolution(*req.ResolutionCode), req.StaffNotes)
	if err != nil {
		s.writeDisputeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toDisputeResponse(d, actor))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, raw string, def int, name string) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", name+" must be an integer")
		return 0, false
	}
	return n, true
}
