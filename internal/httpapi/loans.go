package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomdray/library/internal/library"
)

// borrowBook handles POST /v1/loans. The loan is always recorded against the
// caller; members cannot borrow on behalf of someone else.
func (s *Server) borrowBook(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.BookID == uuid.Nil {
		badRequest(w, "book_id is required")
		return
	}
	actor := actorFrom(r)
	loan, err := s.circ.Borrow(r.Context(), actor.UserID, req.BookID)
	observeOp("borrow", err)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toLoanResponse(loan, s.today()))
}

// returnBook handles POST /v1/loans/{id}/return (staff only).
func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	receipt, err := s.circ.Return(r.Context(), loanID)
	observeOp("return", err)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	minor, _ := receipt.Fine.MinorUnits()
	toJSON(w, http.StatusOK, returnResponse{
		LoanID:          receipt.LoanID,
		FineAmountMinor: minor,
		FineAmount:      formatMinor(minor),
		DaysLate:        receipt.DaysLate,
	})
}

// myLoans handles GET /v1/loans/my?status=active|returned|overdue.
func (s *Server) myLoans(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	f := library.LoanFilter{UserID: &actor.UserID, Today: s.today()}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := library.LoanStatus(raw)
		if !st.Valid() {
			badRequest(w, "invalid status")
			return
		}
		f.Status = &st
	}
	s.listLoans(w, r, f)
}

// loans handles GET /v1/loans (staff only) with optional status, user_id and
// overdue filters.
func (s *Server) loans(w http.ResponseWriter, r *http.Request) {
	f := library.LoanFilter{Today: s.today()}
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		st := library.LoanStatus(raw)
		if !st.Valid() {
			badRequest(w, "invalid status")
			return
		}
		f.Status = &st
	}
	if raw := q.Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "invalid user_id")
			return
		}
		f.UserID = &userID
	}
	if q.Get("overdue") == "true" {
		f.OverdueOnly = true
	}
	s.listLoans(w, r, f)
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request, f library.LoanFilter) {
	details, err := s.loanReader.Loans(r.Context(), f)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	today := s.today()
	out := make([]loanResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toLoanDetailResponse(d, today))
	}
	toJSON(w, http.StatusOK, out)
}

// loanByID handles GET /v1/loans/{id}. Members only see their own loans.
func (s *Server) loanByID(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid loan id")
		return
	}
	detail, err := s.loanReader.LoanByID(r.Context(), loanID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	actor := actorFrom(r)
	if !actor.Role.Staff() && detail.UserID != actor.UserID {
		// Hide the loan's existence from other members.
		writeErr(w, http.StatusNotFound, "loan not found", "not_found")
		return
	}
	toJSON(w, http.StatusOK, toLoanDetailResponse(detail, s.today()))
}

func (s *Server) today() time.Time {
	return library.DateOf(s.now())
}
