package library

import (
	"time"

	"github.com/google/uuid"
)

// LoanFilter narrows loan listings. Status is matched against the effective
// status (overdue derived from dates), so Today must carry the reference date.
type LoanFilter struct {
	UserID      *uuid.UUID
	Status      *LoanStatus
	OverdueOnly bool
	Today       time.Time
}

// ReservationFilter narrows reservation listings.
type ReservationFilter struct {
	UserID *uuid.UUID
	BookID *uuid.UUID
	Status *ReservationStatus
}
