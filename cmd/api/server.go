package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tutorflow/auth"
	"tutorflow/booking"
	"tutorflow/catalog"
	"tutorflow/dispute"
)

type disputeService interface {
	Create(ctx context.Context, params dispute.CreateParams) (dispute.Dispute, error)
	Respond(ctx context.Context, disputeID, actorID, responseText string) (dispute.Dispute, error)
	Withdraw(ctx context.Context, disputeID, actorID string) (dispute.Dispute, error)
	Resolve(ctx context.Context, disputeID string, actor dispute.Actor, resolution dispute.Resolution, notes string) (dispute.Dispute, error)
	Get(ctx context.Context, disputeID string, actor dispute.Actor) (dispute.Dispute, error)
	ListForLearner(ctx context.Context, learnerID string, onlyActive bool) ([]dispute.Dispute, error)
	ListForTutor(ctx context.Context, tutorID string, onlyActive bool) ([]dispute.Dispute, error)
	ListForStaff(ctx context.Context, actor dispute.Actor, filter dispute.StaffFilter, page, pageSize int) (dispute.Page, error)
}

type slotService interface {
	ListDisputable(ctx context.Context, learnerID string, limit int) ([]booking.Slot, error)
}

type tokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

// Server exposes the dispute lifecycle over HTTP.
type Server struct {
	disputeService disputeService
	slotService    slotService
	tokens         tokenVerifier
	catalog        *catalog.Catalog
	logger         *zap.Logger
	now            func() time.Time
}

func NewServer(disputes disputeService, slots slotService, tokens tokenVerifier, cat *catalog.Catalog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		disputeService: disputes,
		slotService:    slots,
		tokens:         tokens,
		catalog:        cat,
		logger:         logger.Named("http"),
		now:            time.Now,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/dispute-catalog", s.handleCatalog)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/bookings/disputable", s.handleDisputableSlots)

			r.Route("/disputes", func(r chi.Router) {
				r.Get("/", s.handleListDisputes)
				r.Post("/", s.handleCreateDispute)
				r.Get("/{disputeID}", s.handleGetDispute)
				r.Post("/{disputeID}/response", s.handleRespond)
				r.Post("/{disputeID}/withdraw", s.handleWithdraw)
				r.Post("/{disputeID}/resolution", s.handleResolve)
			})
		})
	})

	return r
}
