package library

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
)

// Role classifies what a caller is allowed to do. Identity and role are
// resolved by the upstream auth layer; this service trusts them as given.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

// Staff reports whether the role can act on other users' loans and reservations.
func (r Role) Staff() bool { return r == RoleLibrarian || r == RoleAdmin }

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool { return r == RoleMember || r == RoleLibrarian || r == RoleAdmin }

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// User is a library member or staff account.
type User struct {
	ID    uuid.UUID
	Name  string
	Email string
	Role  Role
}

// Book is a catalog record with its copy counts. AvailableCopies is owned by
// the circulation engine: it decrements exactly once per active loan and
// increments exactly once per return, and always stays within
// [0, TotalCopies].
type Book struct {
	ID              uuid.UUID
	ISBN            string
	Title           string
	TotalCopies     int
	AvailableCopies int
}

// LoanStatus is the lifecycle state of a loan. Overdue is derived at read
// time from DueDate, never maintained by a background job.
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
	LoanOverdue  LoanStatus = "overdue"
)

// Valid reports whether the status is one of the known values.
func (s LoanStatus) Valid() bool {
	return s == LoanActive || s == LoanReturned || s == LoanOverdue
}

// Loan records one borrowing of a book by a user.
type Loan struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	BookID     uuid.UUID
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     LoanStatus
	Fine       money.Amount
}

// Active reports whether the loan is still out.
func (l Loan) Active() bool { return l.ReturnDate == nil }

// DaysOverdue returns whole days past the due date for an unreturned loan,
// zero for returned loans or loans within their term.
func (l Loan) DaysOverdue(today time.Time) int {
	if l.ReturnDate != nil {
		return 0
	}
	d := int(DateOf(today).Sub(DateOf(l.DueDate)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// EffectiveStatus reports the loan status with overdue derived from dates.
// The stored status may lag; displays should always use this.
func (l Loan) EffectiveStatus(today time.Time) LoanStatus {
	if l.ReturnDate == nil && l.DaysOverdue(today) > 0 {
		return LoanOverdue
	}
	return l.Status
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationFulfilled ReservationStatus = "fulfilled"
)

// Valid reports whether the status is one of the known values.
func (s ReservationStatus) Valid() bool {
	return s == ReservationActive || s == ReservationCancelled || s == ReservationFulfilled
}

// Reservation is a place in a book's waiting queue. Queue order is defined by
// ReservedAt; position is always computed against earlier active
// reservations, never stored or compacted.
type Reservation struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	BookID     uuid.UUID
	ReservedAt time.Time
	Status     ReservationStatus
}

// DateOf truncates a time to its UTC calendar date. Loan terms and fines are
// computed on whole days.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
