package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tutorflow/booking"
	"tutorflow/catalog"
	"tutorflow/dispute"
)

type reasonResponse struct {
	Code   int    `json:"code"`
	Label  string `json:"label,omitempty"`
	Detail string `json:"detail"`
}

type disputeResponse struct {
	ID                    string         `json:"id"`
	CaseNumber            string         `json:"caseNumber"`
	Status                int            `json:"status"`
	StatusLabel           string         `json:"statusLabel,omitempty"`
	LearnerID             string         `json:"learnerId"`
	LearnerName           string         `json:"learnerName,omitempty"`
	TutorID               string         `json:"tutorId"`
	TutorName             string         `json:"tutorName,omitempty"`
	BookingSlotID         string         `json:"bookingSlotId"`
	Reason                reasonResponse `json:"reason"`
	EvidenceURLs          []string       `json:"evidenceUrls"`
	TutorResponse         *string        `json:"tutorResponse"`
	TutorRespondedAt      *string        `json:"tutorRespondedAt"`
	ReconciliationEndTime string         `json:"reconciliationEndTime"`
	StaffReviewEndTime    *string        `json:"staffReviewEndTime"`
	Resolution            *int           `json:"resolution"`
	StaffNotes            *string        `json:"staffNotes"`
	ResolvedAt            *string        `json:"resolvedAt"`
	CreatedAt             string         `json:"createdAt"`
	UpdatedAt             string         `json:"updatedAt"`
	CanRespond            bool           `json:"canRespond"`
	CanWithdraw           bool           `json:"canWithdraw"`
	CanResolve            bool           `json:"canResolve"`
}

type slotResponse struct {
	ID       string `json:"id"`
	TutorID  string `json:"tutorId"`
	StartsAt string `json:"startsAt"`
	EndsAt   string `json:"endsAt"`
	Status   string `json:"status"`
}

// toDisputeResponse renders d for actor. The capability flags are computed
// for the caller, so a learner never sees canRespond set.
func (s *Server) toDisputeResponse(d dispute.Dispute, actor dispute.Actor) disputeResponse {
	now := s.now()
	resp := disputeResponse{
		ID:                    d.ID,
		CaseNumber:            d.CaseNumber,
		Status:                int(d.Status),
		LearnerID:             d.LearnerID,
		LearnerName:           d.LearnerName,
		TutorID:               d.TutorID,
		TutorName:             d.TutorName,
		BookingSlotID:         d.BookingSlotID,
		Reason:                reasonResponse{Code: int(d.Reason.Code), Detail: d.Reason.Detail},
		EvidenceURLs:          d.EvidenceURLs,
		TutorResponse:         d.TutorResponse,
		TutorRespondedAt:      formatTimePtr(d.TutorRespondedAt),
		ReconciliationEndTime: formatTime(d.ReconciliationEndTime),
		StaffReviewEndTime:    formatTimePtr(d.StaffReviewEndTime),
		StaffNotes:            d.StaffNotes,
		ResolvedAt:            formatTimePtr(d.ResolvedAt),
		CreatedAt:             formatTime(d.CreatedAt),
		UpdatedAt:             formatTime(d.UpdatedAt),
		CanRespond:            actor.ID == d.TutorID && dispute.CanRespond(d, now),
		CanWithdraw:           actor.ID == d.LearnerID && dispute.CanWithdraw(d),
		CanResolve:            actor.Role.IsStaff() && dispute.CanResolve(d),
	}
	if resp.EvidenceURLs == nil {
		resp.EvidenceURLs = []string{}
	}
	if d.Resolution != nil {
		code := int(*d.Resolution)
		resp.Resolution = &code
	}
	if s.catalog != nil {
		resp.StatusLabel = s.catalog.StatusLabel(d.Status)
		if e, ok := s.catalog.Reason(d.Reason.Code); ok {
			resp.Reason.Label = e.Label
		}
	}
	return resp
}

func toSlotResponse(slot booking.Slot) slotResponse {
	return slotResponse{
		ID:       slot.ID,
		TutorID:  slot.TutorID,
		StartsAt: formatTime(slot.StartsAt),
		EndsAt:   formatTime(slot.EndsAt),
		Status:   string(slot.Status),
	}
}

type catalogResponse struct {
	Statuses    []catalog.Entry `json:"statuses"`
	Resolutions []catalog.Entry `json:"resolutions"`
	Reasons     []catalog.Entry `json:"reasons"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeDisputeError maps the engine's error kinds onto HTTP statuses.
func (s *Server) writeDisputeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, dispute.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, dispute.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, dispute.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, dispute.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, dispute.ErrWindowExpired):
		status, code = http.StatusUnprocessableEntity, "WINDOW_EXPIRED"
	default:
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	writeError(w, status, code, publicMessage(err))
}

// publicMessage strips the package prefix from sentinel-wrapped errors.
func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), "dispute: ")
}
