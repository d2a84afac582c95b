package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomdray/library/internal/library"
)

// bookByID handles GET /v1/books/{id}.
func (s *Server) bookByID(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid book id")
		return
	}
	book, err := s.books.BookByID(r.Context(), bookID)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toBookResponse(book))
}

// createBook handles POST /v1/books (staff only). New books start with every
// copy on the shelf.
func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	req.ISBN = strings.TrimSpace(req.ISBN)
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.ISBN == "":
		badRequest(w, "isbn is required")
		return
	case req.Title == "":
		badRequest(w, "title is required")
		return
	case req.TotalCopies < 0:
		badRequest(w, "total_copies must not be negative")
		return
	}
	book, err := s.books.CreateBook(r.Context(), library.Book{
		ID:              uuid.New(),
		ISBN:            req.ISBN,
		Title:           req.Title,
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.TotalCopies,
	})
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toBookResponse(book))
}

// updateCopies handles PATCH /v1/books/{id}/copies (staff only). The available
// counter is re-derived from copies currently on loan, so shrinking the total
// never strands an active loan.
func (s *Server) updateCopies(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid book id")
		return
	}
	var req updateCopiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.TotalCopies < 0 {
		badRequest(w, "total_copies must not be negative")
		return
	}
	book, err := s.circ.SetTotalCopies(r.Context(), bookID, req.TotalCopies)
	observeOp("update_copies", err)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toBookResponse(book))
}
