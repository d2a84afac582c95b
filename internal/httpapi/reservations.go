package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomdray/library/internal/library"
)

// reserveBook handles POST /v1/reservations.
func (s *Server) reserveBook(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.BookID == uuid.Nil {
		badRequest(w, "book_id is required")
		return
	}
	actor := actorFrom(r)
	placement, err := s.circ.Reserve(r.Context(), actor.UserID, req.BookID)
	observeOp("reserve", err)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, reservationCreatedResponse{
		ReservationID: placement.Reservation.ID,
		QueuePosition: placement.QueuePosition,
	})
}

// cancelReservation handles DELETE /v1/reservations/{id}. Ownership is
// enforced by the engine so staff can cancel on behalf of members.
func (s *Server) cancelReservation(w http.ResponseWriter, r *http.Request) {
	reservationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid reservation id")
		return
	}
	err = s.circ.CancelReservation(r.Context(), reservationID, actorFrom(r))
	observeOp("cancel_reservation", err)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// myReservations handles GET /v1/reservations/my?status=...
func (s *Server) myReservations(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	f := library.ReservationFilter{UserID: &actor.UserID}
	if !s.parseReservationStatus(w, r, &f) {
		return
	}
	s.listReservations(w, r, f)
}

// reservations handles GET /v1/reservations (staff only) with optional
// book_id and status filters.
func (s *Server) reservations(w http.ResponseWriter, r *http.Request) {
	var f library.ReservationFilter
	if raw := r.URL.Query().Get("book_id"); raw != "" {
		bookID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "invalid book_id")
			return
		}
		f.BookID = &bookID
	}
	if !s.parseReservationStatus(w, r, &f) {
		return
	}
	s.listReservations(w, r, f)
}

func (s *Server) parseReservationStatus(w http.ResponseWriter, r *http.Request, f *library.ReservationFilter) bool {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return true
	}
	st := library.ReservationStatus(raw)
	if !st.Valid() {
		badRequest(w, "invalid status")
		return false
	}
	f.Status = &st
	return true
}

func (s *Server) listReservations(w http.ResponseWriter, r *http.Request, f library.ReservationFilter) {
	details, err := s.reservationReader.Reservations(r.Context(), f)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	out := make([]reservationResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toReservationResponse(d))
	}
	toJSON(w, http.StatusOK, out)
}
