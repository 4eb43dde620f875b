package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tutorflow/auth"
	"tutorflow/booking"
	"tutorflow/catalog"
	"tutorflow/dispute"
)

const testSecret = "test-secret"

type stubDisputeService struct {
	record     dispute.Dispute
	list       []dispute.Dispute
	page       dispute.Page
	err        error
	lastCreate dispute.CreateParams
	lastActor  dispute.Actor
	lastFilter dispute.StaffFilter
	lastPage   [2]int
	lastActive bool
	called     string
}

func (s *stubDisputeService) Create(_ context.Context, params dispute.CreateParams) (dispute.Dispute, error) {
	s.called, s.lastCreate = "create", params
	return s.record, s.err
}

func (s *stubDisputeService) Respond(_ context.Context, _, actorID, _ string) (dispute.Dispute, error) {
	s.called, s.lastActor = "respond", dispute.Actor{ID: actorID}
	return s.record, s.err
}

func (s *stubDisputeService) Withdraw(_ context.Context, _, actorID string) (dispute.Dispute, error) {
	s.called, s.lastActor = "withdraw", dispute.Actor{ID: actorID}
	return s.record, s.err
}

func (s *stubDisputeService) Resolve(_ context.Context, _ string, actor dispute.Actor, _ dispute.Resolution, _ string) (dispute.Dispute, error) {
	s.called, s.lastActor = "resolve", actor
	return s.record, s.err
}

func (s *stubDisputeService) Get(_ context.Context, _ string, actor dispute.Actor) (dispute.Dispute, error) {
	s.called, s.lastActor = "get", actor
	return s.record, s.err
}

func (s *stubDisputeService) ListForLearner(_ context.Context, _ string, onlyActive bool) ([]dispute.Dispute, error) {
	s.called, s.lastActive = "listForLearner", onlyActive
	return s.list, s.err
}

func (s *stubDisputeService) ListForTutor(_ context.Context, _ string, onlyActive bool) ([]dispute.Dispute, error) {
	s.called, s.lastActive = "listForTutor", onlyActive
	return s.list, s.err
}

func (s *stubDisputeService) ListForStaff(_ context.Context, actor dispute.Actor, filter dispute.StaffFilter, page, pageSize int) (dispute.Page, error) {
	s.called, s.lastActor, s.lastFilter, s.lastPage = "listForStaff", actor, filter, [2]int{page, pageSize}
	return s.page, s.err
}

type stubSlotService struct {
	slots []booking.Slot
	err   error
}

func (s *stubSlotService) ListDisputable(_ context.Context, _ string, _ int) ([]booking.Slot, error) {
	return s.slots, s.err
}

func newTestServer(t *testing.T, svc *stubDisputeService) *Server {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	server := NewServer(svc, &stubSlotService{}, auth.NewService(nil, testSecret), cat, nil)
	server.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return server
}

func bearer(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := auth.NewService(nil, testSecret).SignToken(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func do(t *testing.T, server *Server, method, path, body, authz string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return payload.Error.Code
}

func sampleDispute() dispute.Dispute {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return dispute.Dispute{
		ID:                    "d1",
		CaseNumber:            "DSP-20260302-ABC123",
		Status:                dispute.StatusPendingReconciliation,
		LearnerID:             "learner-1",
		TutorID:               "tutor-1",
		BookingSlotID:         "slot-1",
		Reason:                dispute.Reason{Code: dispute.ReasonTutorAbsent, Detail: "No show"},
		ReconciliationEndTime: created.Add(24 * time.Hour),
		CreatedAt:             created,
		UpdatedAt:             created,
	}
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t, &stubDisputeService{}), http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDisputeRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, &stubDisputeService{})

	rec := do(t, server, http.MethodGet, "/api/disputes", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, "/api/disputes", "", "Bearer not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestCatalogIsPublic(t *testing.T) {
	rec := do(t, newTestServer(t, &stubDisputeService{}), http.MethodGet, "/api/dispute-catalog", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload catalogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(payload.Statuses) != 7 || len(payload.Resolutions) != 3 || len(payload.Reasons) != 5 {
		t.Fatalf("unexpected catalog sizes: %d/%d/%d", len(payload.Statuses), len(payload.Resolutions), len(payload.Reasons))
	}
}

func TestHandleGetDispute_Success(t *testing.T) {
	svc := &stubDisputeService{record: sampleDispute()}
	server := newTestServer(t, svc)

	rec := do(t, server, http.MethodGet, "/api/disputes/d1", "", bearer(t, "tutor-1", auth.RoleTutor))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp disputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "d1" || resp.CaseNumber != "DSP-20260302-ABC123" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.StatusLabel != "Waiting for tutor" {
		t.Fatalf("expected catalog label, got %q", resp.StatusLabel)
	}
	if !resp.CanRespond || resp.CanWithdraw || resp.CanResolve {
		t.Fatalf("tutor capabilities wrong: respond=%v withdraw=%v resolve=%v", resp.CanRespond, resp.CanWithdraw, resp.CanResolve)
	}
	if resp.ReconciliationEndTime != "2026-03-03T09:00:00Z" {
		t.Fatalf("unexpected reconciliationEndTime %s", resp.ReconciliationEndTime)
	}
	if svc.lastActor.ID != "tutor-1" || svc.lastActor.Role != auth.RoleTutor {
		t.Fatalf("actor not propagated: %+v", svc.lastActor)
	}
}

func TestDisputeErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: too short", dispute.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{fmt.Errorf("%w: not the tutor", dispute.ErrForbidden), http.StatusForbidden, "FORBIDDEN"},
		{fmt.Errorf("%w: dispute d1", dispute.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: already closed", dispute.ErrInvalidState), http.StatusConflict, "INVALID_STATE"},
		{fmt.Errorf("%w: closed at noon", dispute.ErrWindowExpired), http.StatusUnprocessableEntity, "WINDOW_EXPIRED"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		server := newTestServer(t, &stubDisputeService{err: tc.err})
		rec := do(t, server, http.MethodPost, "/api/disputes/d1/response",
			`{"responseText":"I was there all along"}`, bearer(t, "tutor-1", auth.RoleTutor))

		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if got := decodeError(t, rec); got != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, got)
		}
	}
}

func TestHandleCreateDispute_LearnerOnly(t *testing.T) {
	svc := &stubDisputeService{record: sampleDispute()}
	server := newTestServer(t, svc)
	body := `{"bookingSlotId":"slot-1","reasonCode":0,"reasonDetail":"No show","evidenceUrls":["https://x.example/1.png"]}`

	rec := do(t, server, http.MethodPost, "/api/disputes", body, bearer(t, "tutor-1", auth.RoleTutor))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tutor, got %d", rec.Code)
	}
	if svc.called != "" {
		t.Fatalf("service must not be called, got %s", svc.called)
	}

	rec = do(t, server, http.MethodPost, "/api/disputes", body, bearer(t, "learner-1", auth.RoleLearner))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastCreate.LearnerID != "learner-1" || svc.lastCreate.BookingSlotID != "slot-1" {
		t.Fatalf("unexpected create params: %+v", svc.lastCreate)
	}
	if len(svc.lastCreate.EvidenceURLs) != 1 {
		t.Fatalf("evidence not forwarded: %+v", svc.lastCreate.EvidenceURLs)
	}
}

func TestHandleCreateDispute_BadBody(t *testing.T) {
	server := newTestServer(t, &stubDisputeService{})
	learner := bearer(t, "learner-1", auth.RoleLearner)

	rec := do(t, server, http.MethodPost, "/api/disputes", `{"bookingSlotId":`, learner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodPost, "/api/disputes", `{"bookingSlotId":"slot-1","reasonDetail":"x"}`, learner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing reasonCode, got %d", rec.Code)
	}
}

func TestHandleResolve_RequiresCode(t *testing.T) {
	svc := &stubDisputeService{record: sampleDispute()}
	server := newTestServer(t, svc)
	staff := bearer(t, "staff-1", auth.RoleStaff)

	rec := do(t, server, http.MethodPost, "/api/disputes/d1/resolution", `{"staffNotes":"ok"}`, staff)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodPost, "/api/disputes/d1/resolution", `{"resolutionCode":4,"staffNotes":"ok"}`, staff)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastActor.Role != auth.RoleStaff {
		t.Fatalf("staff role not forwarded: %+v", svc.lastActor)
	}
}

func TestHandleWithdraw_Success(t *testing.T) {
	withdrawn := sampleDispute()
	withdrawn.Status = dispute.StatusClosedWithdrawn
	svc := &stubDisputeService{record: withdrawn}

	rec := do(t, newTestServer(t, svc), http.MethodPost, "/api/disputes/d1/withdraw", "", bearer(t, "learner-1", auth.RoleLearner))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp disputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != int(dispute.StatusClosedWithdrawn) || resp.CanWithdraw {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleListDisputes_Learner(t *testing.T) {
	svc := &stubDisputeService{list: []dispute.Dispute{sampleDispute()}}
	server := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/disputes?active=true", nil)
	ctx := context.WithValue(req.Context(), ctxKeyUserID, "learner-1")
	ctx = context.WithValue(ctx, ctxKeyRole, auth.RoleLearner)
	rec := httptest.NewRecorder()

	server.handleListDisputes(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []disputeResponse `json:"items"`
		Total int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || !payload.Items[0].CanWithdraw {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if svc.called != "listForLearner" || !svc.lastActive {
		t.Fatalf("expected active learner listing, got %s active=%v", svc.called, svc.lastActive)
	}
}

func TestHandleListDisputes_Tutor(t *testing.T) {
	svc := &stubDisputeService{}
	rec := do(t, newTestServer(t, svc), http.MethodGet, "/api/disputes", "", bearer(t, "tutor-1", auth.RoleTutor))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.called != "listForTutor" || svc.lastActive {
		t.Fatalf("expected full tutor listing, got %s active=%v", svc.called, svc.lastActive)
	}
}

func TestHandleListDisputes_StaffQueue(t *testing.T) {
	svc := &stubDisputeService{page: dispute.Page{Items: []dispute.Dispute{sampleDispute()}, TotalItems: 41, TotalPages: 3}}
	server := newTestServer(t, svc)

	rec := do(t, server, http.MethodGet, "/api/disputes?status=3&q=DSP-2026&page=2&pageSize=20", "", bearer(t, "staff-1", auth.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.called != "listForStaff" || svc.lastPage != [2]int{2, 20} {
		t.Fatalf("unexpected call %s page=%v", svc.called, svc.lastPage)
	}
	if svc.lastFilter.Status == nil || *svc.lastFilter.Status != dispute.StatusAwaitingStaffReview || svc.lastFilter.SearchTerm != "DSP-2026" {
		t.Fatalf("unexpected filter: %+v", svc.lastFilter)
	}

	var payload struct {
		TotalItems int `json:"totalItems"`
		TotalPages int `json:"totalPages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.TotalItems != 41 || payload.TotalPages != 3 {
		t.Fatalf("unexpected paging: %+v", payload)
	}

	rec = do(t, server, http.MethodGet, "/api/disputes?page=abc", "", bearer(t, "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric page, got %d", rec.Code)
	}
}

func TestHandleListDisputes_StaffQueryErrorsShareCode(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		svcErr error
	}{
		{name: "non-numeric page", query: "page=abc"},
		{name: "non-numeric pageSize", query: "pageSize=ten"},
		{name: "non-numeric status", query: "status=open"},
		{name: "page out of range", query: "page=0", svcErr: fmt.Errorf("%w: page must be >= 1", dispute.ErrValidation)},
		{name: "pageSize out of range", query: "pageSize=500", svcErr: fmt.Errorf("%w: pageSize must be between 1 and 100", dispute.ErrValidation)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(t, &stubDisputeService{err: tc.svcErr})
			rec := do(t, server, http.MethodGet, "/api/disputes?"+tc.query, "", bearer(t, "staff-1", auth.RoleStaff))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if code := decodeError(t, rec); code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}
}

func TestHandleDisputableSlots(t *testing.T) {
	server := newTestServer(t, &stubDisputeService{})
	server.slotService = &stubSlotService{slots: []booking.Slot{{
		ID:       "slot-1",
		TutorID:  "tutor-1",
		StartsAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:   booking.SlotStatusCompleted,
	}}}

	rec := do(t, server, http.MethodGet, "/api/bookings/disputable", "", bearer(t, "learner-1", auth.RoleLearner))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []slotResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].StartsAt != "2026-03-01T09:00:00Z" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	rec = do(t, server, http.MethodGet, "/api/bookings/disputable", "", bearer(t, "tutor-1", auth.RoleTutor))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tutor, got %d", rec.Code)
	}
}
