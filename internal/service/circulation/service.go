// Package circulation implements the transactional engine behind borrowing,
// returning and reserving books. Every operation is a single atomic unit of
// work: the availability check and the copy-count mutation happen under a
// lock on the target book row, so two borrows of the last copy can never both
// succeed.
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tomdray/library/internal/config"
	"github.com/tomdray/library/internal/errs"
	"github.com/tomdray/library/internal/library"
)

// Business-rule violations surfaced to callers. All match errs.ErrConflict.
var (
	ErrNoCopies             = errs.Conflict("no copies available")
	ErrLoanLimit            = errs.Conflict("loan limit reached")
	ErrAlreadyBorrowed      = errs.Conflict("already borrowed")
	ErrAlreadyReturned      = errs.Conflict("already returned")
	ErrDuplicateReservation = errs.Conflict("you already have an active reservation for this book")
	ErrBookAvailable        = errs.Conflict("book is currently available, borrow it instead")
	ErrReservationNotActive = errs.Conflict("reservation is not active")
)

// Tx is one atomic unit of work against the shared circulation state.
// Implementations must acquire an exclusive lock on the rows returned by the
// ForUpdate methods, hold it until Commit or Rollback, and discard all writes
// on Rollback. Rollback after Commit must be a no-op.
type Tx interface {
	// BookForUpdate reads a book under an exclusive lock.
	BookForUpdate(ctx context.Context, bookID uuid.UUID) (library.Book, error)
	// SetBookCopies writes both copy counters for a locked book.
	SetBookCopies(ctx context.Context, bookID uuid.UUID, total, available int) error

	ActiveLoanCountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	ActiveLoanCountByBook(ctx context.Context, bookID uuid.UUID) (int, error)
	HasActiveLoan(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	CreateLoan(ctx context.Context, l library.Loan) error
	// LoanForUpdate reads a loan under an exclusive lock.
	LoanForUpdate(ctx context.Context, loanID uuid.UUID) (library.Loan, error)
	// FinalizeReturn persists return date, status and fine for a locked loan.
	FinalizeReturn(ctx context.Context, l library.Loan) error

	HasActiveReservation(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	CreateReservation(ctx context.Context, r library.Reservation) error
	// QueuePosition counts active reservations for the same book reserved
	// strictly earlier, plus one.
	QueuePosition(ctx context.Context, r library.Reservation) (int, error)
	// ReservationForUpdate reads a reservation under an exclusive lock.
	ReservationForUpdate(ctx context.Context, reservationID uuid.UUID) (library.Reservation, error)
	SetReservationStatus(ctx context.Context, reservationID uuid.UUID, status library.ReservationStatus) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens circulation transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// ReturnReceipt is the outcome of returning a loan.
type ReturnReceipt struct {
	LoanID   uuid.UUID
	Fine     money.Amount
	DaysLate int
}

// Placement is the outcome of reserving a book.
type Placement struct {
	Reservation   library.Reservation
	QueuePosition int
}

// Service is the circulation engine exposed to the API layer.
type Service interface {
	Borrow(ctx context.Context, userID, bookID uuid.UUID) (library.Loan, error)
	Return(ctx context.Context, loanID uuid.UUID) (ReturnReceipt, error)
	Reserve(ctx context.Context, userID, bookID uuid.UUID) (Placement, error)
	CancelReservation(ctx context.Context, reservationID uuid.UUID, actor library.Actor) error
	SetTotalCopies(ctx context.Context, bookID uuid.UUID, total int) (library.Book, error)
}

type service struct {
	store  Store
	policy config.Circulation
	now    func() time.Time
}

// New constructs the engine with the given policy.
func New(store Store, policy config.Circulation) Service {
	return NewWithClock(store, policy, time.Now)
}

// NewWithClock is New with an injected clock, used by tests to control loan
// and fine dates.
func NewWithClock(store Store, policy config.Circulation, now func() time.Time) Service {
	return &service{store: store, policy: policy, now: now}
}

// Borrow checks availability and per-user limits, decrements the book's
// available copies and records the loan, all in one transaction.
func (s *service) Borrow(ctx context.Context, userID, bookID uuid.UUID) (library.Loan, error) {
	if userID == uuid.Nil || bookID == uuid.Nil {
		return library.Loan{}, errs.ErrInvalid
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return library.Loan{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := tx.BookForUpdate(ctx, bookID)
	if err != nil {
		return library.Loan{}, err
	}
	if book.AvailableCopies <= 0 {
		return library.Loan{}, ErrNoCopies
	}
	active, err := tx.ActiveLoanCountByUser(ctx, userID)
	if err != nil {
		return library.Loan{}, err
	}
	if active >= s.policy.MaxLoansPerUser {
		return library.Loan{}, ErrLoanLimit
	}
	dup, err := tx.HasActiveLoan(ctx, userID, bookID)
	if err != nil {
		return library.Loan{}, err
	}
	if dup {
		return library.Loan{}, ErrAlreadyBorrowed
	}

	today := library.DateOf(s.now())
	loan := library.Loan{
		ID:         uuid.New(),
		UserID:     userID,
		BookID:     bookID,
		BorrowDate: today,
		DueDate:    today.AddDate(0, 0, s.policy.LoanDurationDays),
		Status:     library.LoanActive,
		Fine:       s.zeroFine(),
	}
	if err := tx.CreateLoan(ctx, loan); err != nil {
		return library.Loan{}, err
	}
	if err := tx.SetBookCopies(ctx, bookID, book.TotalCopies, book.AvailableCopies-1); err != nil {
		return library.Loan{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return library.Loan{}, err
	}
	return loan, nil
}

// Return closes a loan, computes the fine for late days and releases the copy
// back into circulation. Returning does not promote the reservation queue;
// the head-of-queue user still has to borrow the freed copy themselves.
func (s *service) Return(ctx context.Context, loanID uuid.UUID) (ReturnReceipt, error) {
	if loanID == uuid.Nil {
		return ReturnReceipt{}, errs.ErrInvalid
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return ReturnReceipt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	loan, err := tx.LoanForUpdate(ctx, loanID)
	if err != nil {
		return ReturnReceipt{}, err
	}
	if loan.ReturnDate != nil {
		return ReturnReceipt{}, ErrAlreadyReturned
	}
	book, err := tx.BookForUpdate(ctx, loan.BookID)
	if err != nil {
		return ReturnReceipt{}, err
	}

	today := library.DateOf(s.now())
	daysLate := loan.DaysOverdue(today)
	fine, err := s.fineFor(daysLate)
	if err != nil {
		return ReturnReceipt{}, fmt.Errorf("compute fine: %w", err)
	}
	loan.ReturnDate = &today
	loan.Status = library.LoanReturned
	loan.Fine = fine
	if err := tx.FinalizeReturn(ctx, loan); err != nil {
		return ReturnReceipt{}, err
	}

	// Clamp defensively; available can never exceed total.
	available := book.AvailableCopies + 1
	if available > book.TotalCopies {
		available = book.TotalCopies
	}
	if err := tx.SetBookCopies(ctx, book.ID, book.TotalCopies, available); err != nil {
		return ReturnReceipt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ReturnReceipt{}, err
	}
	return ReturnReceipt{LoanID: loan.ID, Fine: fine, DaysLate: daysLate}, nil
}

// Reserve places the user at the tail of the book's waiting queue. Only books
// with no available copies can be reserved.
func (s *service) Reserve(ctx context.Context, userID, bookID uuid.UUID) (Placement, error) {
	if userID == uuid.Nil || bookID == uuid.Nil {
		return Placement{}, errs.ErrInvalid
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Placement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := tx.BookForUpdate(ctx, bookID)
	if err != nil {
		return Placement{}, err
	}
	if book.AvailableCopies > 0 {
		return Placement{}, ErrBookAvailable
	}
	dup, err := tx.HasActiveReservation(ctx, userID, bookID)
	if err != nil {
		return Placement{}, err
	}
	if dup {
		return Placement{}, ErrDuplicateReservation
	}

	res := library.Reservation{
		ID:         uuid.New(),
		UserID:     userID,
		BookID:     bookID,
		ReservedAt: s.now().UTC(),
		Status:     library.ReservationActive,
	}
	if err := tx.CreateReservation(ctx, res); err != nil {
		return Placement{}, err
	}
	pos, err := tx.QueuePosition(ctx, res)
	if err != nil {
		return Placement{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Placement{}, err
	}
	return Placement{Reservation: res, QueuePosition: pos}, nil
}

// CancelReservation marks a reservation cancelled. Members may only cancel
// their own; staff may cancel any. Queue positions of later reservations are
// never compacted, they are recomputed against remaining active rows.
func (s *service) CancelReservation(ctx context.Context, reservationID uuid.UUID, actor library.Actor) error {
	if reservationID == uuid.Nil {
		return errs.ErrInvalid
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := tx.ReservationForUpdate(ctx, reservationID)
	if err != nil {
		return err
	}
	if !actor.Role.Staff() && res.UserID != actor.UserID {
		return errs.Forbidden("you can only cancel your own reservations")
	}
	if res.Status != library.ReservationActive {
		return ErrReservationNotActive
	}
	if err := tx.SetReservationStatus(ctx, reservationID, library.ReservationCancelled); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetTotalCopies changes a book's total copy count and re-derives the
// available counter preserving copies currently on loan:
// available = max(0, total - active loans).
func (s *service) SetTotalCopies(ctx context.Context, bookID uuid.UUID, total int) (library.Book, error) {
	if bookID == uuid.Nil || total < 0 {
		return library.Book{}, errs.ErrInvalid
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return library.Book{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	book, err := tx.BookForUpdate(ctx, bookID)
	if err != nil {
		return library.Book{}, err
	}
	onLoan, err := tx.ActiveLoanCountByBook(ctx, bookID)
	if err != nil {
		return library.Book{}, err
	}
	available := total - onLoan
	if available < 0 {
		available = 0
	}
	if err := tx.SetBookCopies(ctx, bookID, total, available); err != nil {
		return library.Book{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return library.Book{}, err
	}
	book.TotalCopies = total
	book.AvailableCopies = available
	return book, nil
}

func (s *service) zeroFine() money.Amount {
	z, _ := money.NewAmountFromMinorUnits(s.policy.FinePerDay.Curr().Code(), 0)
	return z
}

func (s *service) fineFor(daysLate int) (money.Amount, error) {
	perDay, ok := s.policy.FinePerDay.MinorUnits()
	if !ok {
		return money.Amount{}, fmt.Errorf("fine per day out of range")
	}
	return money.NewAmountFromMinorUnits(s.policy.FinePerDay.Curr().Code(), int64(daysLate)*perDay)
}
