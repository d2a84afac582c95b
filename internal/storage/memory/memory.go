// Package memory provides a simple in-memory implementation used for
// development and tests. Circulation transactions serialize on the store
// mutex, which gives the same observable atomicity as the row-locked
// Postgres store.
package memory

import (
	"context"
	"sort"
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/tomdray/library/internal/errs"
	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/circulation"
	"github.com/tomdray/library/internal/service/reports"
)

// Store is an in-memory implementation of the storage interfaces used by the
// services and the API. Reads take the read lock; circulation transactions
// hold the write lock from Begin until Commit or Rollback.
type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]library.User
	books        map[uuid.UUID]library.Book
	loans        map[uuid.UUID]library.Loan
	reservations map[uuid.UUID]library.Reservation
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		users:        make(map[uuid.UUID]library.User),
		books:        make(map[uuid.UUID]library.Book),
		loans:        make(map[uuid.UUID]library.Loan),
		reservations: make(map[uuid.UUID]library.Reservation),
	}
}

// Seed helpers for local dev/tests.
func (s *Store) SeedUser(u library.User) { s.mu.Lock(); s.users[u.ID] = u; s.mu.Unlock() }
func (s *Store) SeedBook(b library.Book) { s.mu.Lock(); s.books[b.ID] = b; s.mu.Unlock() }
func (s *Store) Reset() {
	s.mu.Lock()
	s.users = map[uuid.UUID]library.User{}
	s.books = map[uuid.UUID]library.Book{}
	s.loans = map[uuid.UUID]library.Loan{}
	s.reservations = map[uuid.UUID]library.Reservation{}
	s.mu.Unlock()
}

// --- Circulation transactions ---

// Begin implements circulation.Store. The returned Tx owns the write lock
// until Commit or Rollback.
func (s *Store) Begin(_ context.Context) (circulation.Tx, error) {
	s.mu.Lock()
	t := &tx{s: s}
	t.snapshot()
	return t, nil
}

type tx struct {
	s    *Store
	done bool
	// pre-transaction copies restored on rollback
	prevBooks        map[uuid.UUID]library.Book
	prevLoans        map[uuid.UUID]library.Loan
	prevReservations map[uuid.UUID]library.Reservation
}

func (t *tx) snapshot() {
	t.prevBooks = make(map[uuid.UUID]library.Book, len(t.s.books))
	for k, v := range t.s.books {
		t.prevBooks[k] = v
	}
	t.prevLoans = make(map[uuid.UUID]library.Loan, len(t.s.loans))
	for k, v := range t.s.loans {
		t.prevLoans[k] = v
	}
	t.prevReservations = make(map[uuid.UUID]library.Reservation, len(t.s.reservations))
	for k, v := range t.s.reservations {
		t.prevReservations[k] = v
	}
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.s.books = t.prevBooks
	t.s.loans = t.prevLoans
	t.s.reservations = t.prevReservations
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *tx) BookForUpdate(_ context.Context, bookID uuid.UUID) (library.Book, error) {
	b, ok := t.s.books[bookID]
	if !ok {
		return library.Book{}, errs.NotFound("book not found")
	}
	return b, nil
}

func (t *tx) SetBookCopies(_ context.Context, bookID uuid.UUID, total, available int) error {
	b, ok := t.s.books[bookID]
	if !ok {
		return errs.NotFound("book not found")
	}
	b.TotalCopies = total
	b.AvailableCopies = available
	t.s.books[bookID] = b
	return nil
}

func (t *tx) ActiveLoanCountByUser(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, l := range t.s.loans {
		if l.UserID == userID && l.ReturnDate == nil {
			n++
		}
	}
	return n, nil
}

func (t *tx) ActiveLoanCountByBook(_ context.Context, bookID uuid.UUID) (int, error) {
	n := 0
	for _, l := range t.s.loans {
		if l.BookID == bookID && l.ReturnDate == nil {
			n++
		}
	}
	return n, nil
}

func (t *tx) HasActiveLoan(_ context.Context, userID, bookID uuid.UUID) (bool, error) {
	for _, l := range t.s.loans {
		if l.UserID == userID && l.BookID == bookID && l.ReturnDate == nil {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CreateLoan(_ context.Context, l library.Loan) error {
	t.s.loans[l.ID] = l
	return nil
}

func (t *tx) LoanForUpdate(_ context.Context, loanID uuid.UUID) (library.Loan, error) {
	l, ok := t.s.loans[loanID]
	if !ok {
		return library.Loan{}, errs.NotFound("loan not found")
	}
	return l, nil
}

func (t *tx) FinalizeReturn(_ context.Context, l library.Loan) error {
	if _, ok := t.s.loans[l.ID]; !ok {
		return errs.NotFound("loan not found")
	}
	t.s.loans[l.ID] = l
	return nil
}

func (t *tx) HasActiveReservation(_ context.Context, userID, bookID uuid.UUID) (bool, error) {
	for _, r := range t.s.reservations {
		if r.UserID == userID && r.BookID == bookID && r.Status == library.ReservationActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CreateReservation(_ context.Context, r library.Reservation) error {
	t.s.reservations[r.ID] = r
	return nil
}

func (t *tx) QueuePosition(_ context.Context, r library.Reservation) (int, error) {
	return queuePositionLocked(t.s, r), nil
}

func (t *tx) ReservationForUpdate(_ context.Context, reservationID uuid.UUID) (library.Reservation, error) {
	r, ok := t.s.reservations[reservationID]
	if !ok {
		return library.Reservation{}, errs.NotFound("reservation not found")
	}
	return r, nil
}

func (t *tx) SetReservationStatus(_ context.Context, reservationID uuid.UUID, status library.ReservationStatus) error {
	r, ok := t.s.reservations[reservationID]
	if !ok {
		return errs.NotFound("reservation not found")
	}
	r.Status = status
	t.s.reservations[reservationID] = r
	return nil
}

// queuePositionLocked counts active reservations for the same book reserved
// strictly earlier, plus one. Caller must hold the lock.
func queuePositionLocked(s *Store, r library.Reservation) int {
	pos := 1
	for _, other := range s.reservations {
		if other.BookID == r.BookID && other.Status == library.ReservationActive && other.ReservedAt.Before(r.ReservedAt) {
			pos++
		}
	}
	return pos
}

// --- Book reads/writes outside the engine ---

// BookByID returns a single book.
func (s *Store) BookByID(_ context.Context, bookID uuid.UUID) (library.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[bookID]
	if !ok {
		return library.Book{}, errs.NotFound("book not found")
	}
	return b, nil
}

// CreateBook inserts a catalog record.
func (s *Store) CreateBook(_ context.Context, b library.Book) (library.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.books {
		if existing.ISBN == b.ISBN {
			return library.Book{}, errs.Conflict("a book with this ISBN already exists")
		}
	}
	s.books[b.ID] = b
	return b, nil
}

// --- Loan reads ---

// LoanByID returns a loan joined with its user and book.
func (s *Store) LoanByID(_ context.Context, loanID uuid.UUID) (library.LoanDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[loanID]
	if !ok {
		return library.LoanDetail{}, errs.NotFound("loan not found")
	}
	return s.loanDetailLocked(l), nil
}

// Loans returns loans matching the filter, newest borrow first.
func (s *Store) Loans(_ context.Context, f library.LoanFilter) ([]library.LoanDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]library.LoanDetail, 0)
	for _, l := range s.loans {
		if f.UserID != nil && l.UserID != *f.UserID {
			continue
		}
		if f.OverdueOnly && (l.ReturnDate != nil || l.DaysOverdue(f.Today) == 0) {
			continue
		}
		if f.Status != nil && l.EffectiveStatus(f.Today) != *f.Status {
			continue
		}
		out = append(out, s.loanDetailLocked(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowDate.Equal(out[j].BorrowDate) {
			return out[i].BorrowDate.After(out[j].BorrowDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) loanDetailLocked(l library.Loan) library.LoanDetail {
	d := library.LoanDetail{Loan: l}
	if u, ok := s.users[l.UserID]; ok {
		d.UserName, d.UserEmail = u.Name, u.Email
	}
	if b, ok := s.books[l.BookID]; ok {
		d.BookTitle, d.ISBN = b.Title, b.ISBN
	}
	return d
}

// --- Reservation reads ---

// Reservations returns reservations matching the filter with computed queue
// positions. Staff listings sort by (book, reserved_at); per-user listings
// sort newest first.
func (s *Store) Reservations(_ context.Context, f library.ReservationFilter) ([]library.ReservationDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]library.ReservationDetail, 0)
	for _, r := range s.reservations {
		if f.UserID != nil && r.UserID != *f.UserID {
			continue
		}
		if f.BookID != nil && r.BookID != *f.BookID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		d := library.ReservationDetail{Reservation: r, QueuePosition: queuePositionLocked(s, r)}
		if u, ok := s.users[r.UserID]; ok {
			d.UserName, d.UserEmail = u.Name, u.Email
		}
		if b, ok := s.books[r.BookID]; ok {
			d.BookTitle, d.ISBN = b.Title, b.ISBN
		}
		out = append(out, d)
	}
	if f.UserID != nil {
		sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.After(out[j].ReservedAt) })
	} else {
		sort.Slice(out, func(i, j int) bool {
			if out[i].BookID != out[j].BookID {
				return out[i].BookID.String() < out[j].BookID.String()
			}
			return out[i].ReservedAt.Before(out[j].ReservedAt)
		})
	}
	return out, nil
}

// --- Reports ---

// Tallies implements reports.Repo.
func (s *Store) Tallies(_ context.Context) (reports.Tallies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t reports.Tallies
	t.UniqueTitles = len(s.books)
	for _, b := range s.books {
		t.TotalCopies += b.TotalCopies
		t.AvailableCopies += b.AvailableCopies
	}
	today := library.DateOf(time.Now())
	for _, l := range s.loans {
		if l.ReturnDate == nil {
			t.ActiveLoans++
			if l.DaysOverdue(today) > 0 {
				t.OverdueLoans++
			}
		} else {
			m, _ := l.Fine.MinorUnits()
			t.FinesCollectedMinor += m
		}
	}
	for _, r := range s.reservations {
		if r.Status == library.ReservationActive {
			t.ActiveReservations++
		}
	}
	for _, u := range s.users {
		if u.Role == library.RoleMember {
			t.TotalMembers++
		}
	}
	return t, nil
}

// OverdueLoans implements reports.Repo.
func (s *Store) OverdueLoans(_ context.Context, today time.Time) ([]library.LoanDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]library.LoanDetail, 0)
	for _, l := range s.loans {
		if l.ReturnDate == nil && l.DaysOverdue(today) > 0 {
			out = append(out, s.loanDetailLocked(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// MostBorrowed implements reports.Repo.
func (s *Store) MostBorrowed(_ context.Context, since time.Time, limit int) ([]reports.BookUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[uuid.UUID]int)
	for _, l := range s.loans {
		if !l.BorrowDate.Before(since) {
			counts[l.BookID]++
		}
	}
	out := make([]reports.BookUsage, 0, len(counts))
	for id, n := range counts {
		b := s.books[id]
		out = append(out, reports.BookUsage{
			BookID:          id.String(),
			Title:           b.Title,
			ISBN:            b.ISBN,
			TotalCopies:     b.TotalCopies,
			AvailableCopies: b.AvailableCopies,
			BorrowCount:     n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BorrowCount != out[j].BorrowCount {
			return out[i].BorrowCount > out[j].BorrowCount
		}
		return out[i].BookID < out[j].BookID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemberActivity implements reports.Repo.
func (s *Store) MemberActivity(_ context.Context, since time.Time) ([]reports.MemberActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := make(map[uuid.UUID]*reports.MemberActivity)
	for _, u := range s.users {
		if u.Role != library.RoleMember {
			continue
		}
		byUser[u.ID] = &reports.MemberActivity{UserID: u.ID.String(), Name: u.Name, Email: u.Email}
	}
	for _, l := range s.loans {
		a, ok := byUser[l.UserID]
		if !ok || l.BorrowDate.Before(since) {
			continue
		}
		a.TotalLoans++
		if l.ReturnDate == nil {
			a.ActiveLoans++
		}
		m, _ := l.Fine.MinorUnits()
		a.TotalFinesMinor += m
	}
	out := make([]reports.MemberActivity, 0, len(byUser))
	for _, a := range byUser {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalLoans != out[j].TotalLoans {
			return out[i].TotalLoans > out[j].TotalLoans
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
