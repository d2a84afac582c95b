// Package httpapi wires the HTTP surface of the library service.
// It keeps handlers thin, delegating circulation rules to the service layer.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tomdray/library/internal/service/circulation"
	"github.com/tomdray/library/internal/service/reports"
)

// Server wires handlers and middleware using Chi.
type Server struct {
	circ              circulation.Service
	reports           reports.Service
	books             BookStore
	loanReader        LoanReader
	reservationReader ReservationReader
	now               func() time.Time
	log               *slog.Logger
	rt                *chi.Mux
}

// New constructs the HTTP server with routes and middleware.
// The logger is used by basic request/response logging and panic recovery.
func New(circ circulation.Service, rep reports.Service, books BookStore, loans LoanReader, reservations ReservationReader, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	s := &Server{
		circ:              circ,
		reports:           rep,
		books:             books,
		loanReader:        loans,
		reservationReader: reservations,
		now:               time.Now,
		log:               logger,
		rt:                r,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route
// middleware. Everything under /v1 requires a resolved identity; the aux
// endpoints stay open for probes and scrapers.
func (s *Server) routes() {
	s.rt.Route("/v1", func(r chi.Router) {
		r.Use(identity)

		// Loans
		r.Post("/loans", s.borrowBook)
		r.Get("/loans/my", s.myLoans)
		r.Get("/loans/{id}", s.loanByID)
		r.With(requireStaff).Post("/loans/{id}/return", s.returnBook)
		r.With(requireStaff).Get("/loans", s.loans)

		// Reservations
		r.Post("/reservations", s.reserveBook)
		r.Get("/reservations/my", s.myReservations)
		r.Delete("/reservations/{id}", s.cancelReservation)
		r.With(requireStaff).Get("/reservations", s.reservations)

		// Books
		r.Get("/books/{id}", s.bookByID)
		r.With(requireStaff).Post("/books", s.createBook)
		r.With(requireStaff).Patch("/books/{id}/copies", s.updateCopies)

		// Reports (staff only)
		r.Route("/reports", func(r chi.Router) {
			r.Use(requireStaff)
			r.Get("/statistics", s.statistics)
			r.Get("/overdue", s.overdueReport)
			r.Get("/most-borrowed", s.mostBorrowed)
			r.Get("/member-activity", s.memberActivity)
		})
	})

	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

// readyz reports whether the backing store can serve traffic. Stores without a
// Ready method (the in-memory one) are always ready.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	type readyIf interface{ Ready(context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if rc, ok := s.books.(readyIf); ok {
		if err := rc.Ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
