package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/tomdray/library/internal/library"
)

// BookStore abstracts the catalog operations the API needs directly. Copy
// counts are only ever changed through the circulation engine.
type BookStore interface {
	BookByID(ctx context.Context, bookID uuid.UUID) (library.Book, error)
	CreateBook(ctx context.Context, b library.Book) (library.Book, error)
}

// LoanReader abstracts the loan read side.
type LoanReader interface {
	LoanByID(ctx context.Context, loanID uuid.UUID) (library.LoanDetail, error)
	Loans(ctx context.Context, f library.LoanFilter) ([]library.LoanDetail, error)
}

// ReservationReader abstracts the reservation read side.
type ReservationReader interface {
	Reservations(ctx context.Context, f library.ReservationFilter) ([]library.ReservationDetail, error)
}
