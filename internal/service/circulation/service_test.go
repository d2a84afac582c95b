package circulation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomdray/library/internal/config"
	"github.com/tomdray/library/internal/errs"
	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/circulation"
	"github.com/tomdray/library/internal/storage/memory"
)

// clock is a settable test clock.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func setup(t *testing.T) (*memory.Store, circulation.Service, *clock) {
	t.Helper()
	store := memory.New()
	clk := newClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := circulation.NewWithClock(store, config.Default(), clk.Now)
	return store, svc, clk
}

func seedUser(store *memory.Store) uuid.UUID {
	id := uuid.New()
	store.SeedUser(library.User{ID: id, Name: "Member", Email: id.String() + "@example.com", Role: library.RoleMember})
	return id
}

func seedBook(store *memory.Store, copies int) uuid.UUID {
	id := uuid.New()
	store.SeedBook(library.Book{ID: id, ISBN: "978-" + id.String()[:8], Title: "Book", TotalCopies: copies, AvailableCopies: copies})
	return id
}

func mustBook(t *testing.T, store *memory.Store, id uuid.UUID) library.Book {
	t.Helper()
	b, err := store.BookByID(context.Background(), id)
	if err != nil {
		t.Fatalf("book lookup: %v", err)
	}
	return b
}

func TestBorrow_DecrementsAvailability(t *testing.T) {
	store, svc, clk := setup(t)
	userID := seedUser(store)
	bookID := seedBook(store, 3)

	loan, err := svc.Borrow(context.Background(), userID, bookID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := mustBook(t, store, bookID).AvailableCopies; got != 2 {
		t.Fatalf("available = %d, want 2", got)
	}
	wantDue := library.DateOf(clk.Now()).AddDate(0, 0, 14)
	if !loan.DueDate.Equal(wantDue) {
		t.Fatalf("due = %v, want %v", loan.DueDate, wantDue)
	}
	if loan.Status != library.LoanActive {
		t.Fatalf("status = %s, want active", loan.Status)
	}
}

func TestBorrow_NoCopies(t *testing.T) {
	store, svc, _ := setup(t)
	bookID := seedBook(store, 2)
	a, b, c := seedUser(store), seedUser(store), seedUser(store)

	for _, userID := range []uuid.UUID{a, b} {
		if _, err := svc.Borrow(context.Background(), userID, bookID); err != nil {
			t.Fatalf("borrow: %v", err)
		}
	}
	_, err := svc.Borrow(context.Background(), c, bookID)
	if !errors.Is(err, circulation.ErrNoCopies) {
		t.Fatalf("err = %v, want ErrNoCopies", err)
	}
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("ErrNoCopies should match the conflict class, got %v", err)
	}
}

func TestBorrow_LoanLimit(t *testing.T) {
	store, svc, _ := setup(t)
	userID := seedUser(store)
	for i := 0; i < 5; i++ {
		if _, err := svc.Borrow(context.Background(), userID, seedBook(store, 1)); err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
	}
	_, err := svc.Borrow(context.Background(), userID, seedBook(store, 1))
	if !errors.Is(err, circulation.ErrLoanLimit) {
		t.Fatalf("err = %v, want ErrLoanLimit", err)
	}
}

func TestBorrow_SameBookTwice(t *testing.T) {
	store, svc, _ := setup(t)
	userID := seedUser(store)
	bookID := seedBook(store, 5)

	if _, err := svc.Borrow(context.Background(), userID, bookID); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := svc.Borrow(context.Background(), userID, bookID); !errors.Is(err, circulation.ErrAlreadyBorrowed) {
		t.Fatalf("err = %v, want ErrAlreadyBorrowed", err)
	}
}

func TestBorrow_UnknownBook(t *testing.T) {
	store, svc, _ := setup(t)
	userID := seedUser(store)
	_, err := svc.Borrow(context.Background(), userID, uuid.New())
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestReturn_OnTimeNoFine(t *testing.T) {
	store, svc, clk := setup(t)
	userID := seedUser(store)
	bookID := seedBook(store, 1)

	loan, err := svc.Borrow(context.Background(), userID, bookID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	clk.Advance(days(14)) // due today, not yet late

	receipt, err := svc.Return(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if receipt.DaysLate != 0 {
		t.Fatalf("days late = %d, want 0", receipt.DaysLate)
	}
	if minor, _ := receipt.Fine.MinorUnits(); minor != 0 {
		t.Fatalf("fine = %d minor, want 0", minor)
	}
	if got := mustBook(t, store, bookID).AvailableCopies; got != 1 {
		t.Fatalf("available = %d, want 1", got)
	}
}

func TestReturn_LateChargesFine(t *testing.T) {
	store, svc, clk := setup(t)
	userID := seedUser(store)
	bookID := seedBook(store, 1)

	loan, err := svc.Borrow(context.Background(), userID, bookID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// 14 day term + 20 days late.
	clk.Advance(days(34))

	receipt, err := svc.Return(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if receipt.DaysLate != 20 {
		t.Fatalf("days late = %d, want 20", receipt.DaysLate)
	}
	// 20 * 0.50 = 10.00
	if minor, _ := receipt.Fine.MinorUnits(); minor != 1000 {
		t.Fatalf("fine = %d minor, want 1000", minor)
	}
}

func TestReturn_Twice(t *testing.T) {
	store, svc, _ := setup(t)
	userID := seedUser(store)
	bookID := seedBook(store, 1)

	loan, err := svc.Borrow(context.Background(), userID, bookID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := svc.Return(context.Background(), loan.ID); err != nil {
		t.Fatalf("first return: %v", err)
	}
	if _, err := svc.Return(context.Background(), loan.ID); !errors.Is(err, circulation.ErrAlreadyReturned) {
		t.Fatalf("err = %v, want ErrAlreadyReturned", err)
	}
	// The failed second return must not bump availability past total.
	if got := mustBook(t, store, bookID); got.AvailableCopies != got.TotalCopies {
		t.Fatalf("available = %d, want %d", got.AvailableCopies, got.TotalCopies)
	}
}

func TestReturn_DoesNotPromoteReservations(t *testing.T) {
	store, svc, _ := setup(t)
	borrower, waiter := seedUser(store), seedUser(store)
	bookID := seedBook(store, 1)

	loan, err := svc.Borrow(context.Background(), borrower, bookID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := svc.Reserve(context.Background(), waiter, bookID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.Return(context.Background(), loan.ID); err != nil {
		t.Fatalf("return: %v", err)
	}

	// The reservation stays active and the freed copy sits on the shelf.
	st := library.ReservationActive
	rs, err := store.Reservations(context.Background(), library.ReservationFilter{UserID: &waiter, Status: &st})
	if err != nil {
		t.Fatalf("reservations: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("active reservations = %d, want 1", len(rs))
	}
	if got := mustBook(t, store, bookID).AvailableCopies; got != 1 {
		t.Fatalf("available = %d, want 1", got)
	}
}

func TestReserve_AvailableBookRejected(t *testing.T) {
	store, svc, _ := setup(t)
	userID := seedUser(store)
	bookID := seedBook(store, 1)

	_, err := svc.Reserve(context.Background(), userID, bookID)
	if !errors.Is(err, circulation.ErrBookAvailable) {
		t.Fatalf("err = %v, want ErrBookAvailable", err)
	}
}

func TestReserve_QueueOrderAndCancellation(t *testing.T) {
	store, svc, clk := setup(t)
	borrower := seedUser(store)
	bookID := seedBook(store, 1)
	if _, err := svc.Borrow(context.Background(), borrower, bookID); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	users := []uuid.UUID{seedUser(store), seedUser(store), seedUser(store)}
	placements := make([]circulation.Placement, len(users))
	for i, userID := range users {
		p, err := svc.Reserve(context.Background(), userID, bookID)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		placements[i] = p
		clk.Advance(time.Minute)
	}
	for i, p := range placements {
		if p.QueuePosition != i+1 {
			t.Fatalf("position[%d] = %d, want %d", i, p.QueuePosition, i+1)
		}
	}

	// Cancelling the middle reservation shifts the tail up on the next read.
	actor := library.Actor{UserID: users[1], Role: library.RoleMember}
	if err := svc.CancelReservation(context.Background(), placements[1].Reservation.ID, actor); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rs, err := store.Reservations(context.Background(), library.ReservationFilter{UserID: &users[2]})
	if err != nil {
		t.Fatalf("reservations: %v", err)
	}
	if len(rs) != 1 || rs[0].QueuePosition != 2 {
		t.Fatalf("tail position = %+v, want 2", rs)
	}
}

func TestReserve_Duplicate(t *testing.T) {
	store, svc, _ := setup(t)
	borrower, waiter := seedUser(store), seedUser(store)
	bookID := seedBook(store, 1)
	if _, err := svc.Borrow(context.Background(), borrower, bookID); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := svc.Reserve(context.Background(), waiter, bookID); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.Reserve(context.Background(), waiter, bookID); !errors.Is(err, circulation.ErrDuplicateReservation) {
		t.Fatalf("err = %v, want ErrDuplicateReservation", err)
	}
}

func TestCancelReservation_Ownership(t *testing.T) {
	store, svc, _ := setup(t)
	borrower, owner, other := seedUser(store), seedUser(store), seedUser(store)
	bookID := seedBook(store, 1)
	if _, err := svc.Borrow(context.Background(), borrower, bookID); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	p, err := svc.Reserve(context.Background(), owner, bookID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = svc.CancelReservation(context.Background(), p.Reservation.ID, library.Actor{UserID: other, Role: library.RoleMember})
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}

	// Staff can cancel on the member's behalf.
	staff := library.Actor{UserID: uuid.New(), Role: library.RoleLibrarian}
	if err := svc.CancelReservation(context.Background(), p.Reservation.ID, staff); err != nil {
		t.Fatalf("staff cancel: %v", err)
	}
	if err := svc.CancelReservation(context.Background(), p.Reservation.ID, staff); !errors.Is(err, circulation.ErrReservationNotActive) {
		t.Fatalf("err = %v, want ErrReservationNotActive", err)
	}
}

func TestSetTotalCopies_PreservesActiveLoans(t *testing.T) {
	store, svc, _ := setup(t)
	bookID := seedBook(store, 5)
	for i := 0; i < 3; i++ {
		if _, err := svc.Borrow(context.Background(), seedUser(store), bookID); err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
	}

	book, err := svc.SetTotalCopies(context.Background(), bookID, 2)
	if err != nil {
		t.Fatalf("set copies: %v", err)
	}
	// 3 copies out on loan, so nothing is on the shelf.
	if book.TotalCopies != 2 || book.AvailableCopies != 0 {
		t.Fatalf("book = %+v, want total 2 available 0", book)
	}

	book, err = svc.SetTotalCopies(context.Background(), bookID, 10)
	if err != nil {
		t.Fatalf("set copies: %v", err)
	}
	if book.TotalCopies != 10 || book.AvailableCopies != 7 {
		t.Fatalf("book = %+v, want total 10 available 7", book)
	}
}

func TestCirculation_TwoCopyScenario(t *testing.T) {
	store, svc, clk := setup(t)
	bookID := seedBook(store, 2)
	userA, userB, userC := seedUser(store), seedUser(store), seedUser(store)

	loanA, err := svc.Borrow(context.Background(), userA, bookID)
	if err != nil {
		t.Fatalf("borrow A: %v", err)
	}
	if _, err := svc.Borrow(context.Background(), userB, bookID); err != nil {
		t.Fatalf("borrow B: %v", err)
	}

	// C finds the shelf empty and joins the queue at the head.
	if _, err := svc.Borrow(context.Background(), userC, bookID); !errors.Is(err, circulation.ErrNoCopies) {
		t.Fatalf("borrow C: %v, want ErrNoCopies", err)
	}
	p, err := svc.Reserve(context.Background(), userC, bookID)
	if err != nil {
		t.Fatalf("reserve C: %v", err)
	}
	if p.QueuePosition != 1 {
		t.Fatalf("position = %d, want 1", p.QueuePosition)
	}

	// A returns 20 days past due.
	clk.Advance(days(34))
	receipt, err := svc.Return(context.Background(), loanA.ID)
	if err != nil {
		t.Fatalf("return A: %v", err)
	}
	if minor, _ := receipt.Fine.MinorUnits(); minor != 1000 {
		t.Fatalf("fine = %d minor, want 1000", minor)
	}
	book := mustBook(t, store, bookID)
	if book.AvailableCopies != 1 {
		t.Fatalf("available = %d, want 1", book.AvailableCopies)
	}
}

func TestBorrow_ConcurrentSingleCopy(t *testing.T) {
	store, svc, _ := setup(t)
	bookID := seedBook(store, 1)

	const n = 16
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = seedUser(store)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for _, userID := range users {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			_, err := svc.Borrow(context.Background(), userID, bookID)
			errCh <- err
		}(userID)
	}
	wg.Wait()
	close(errCh)

	var ok, noCopies int
	for err := range errCh {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, circulation.ErrNoCopies):
			noCopies++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || noCopies != n-1 {
		t.Fatalf("ok = %d, noCopies = %d, want 1 and %d", ok, noCopies, n-1)
	}
	book := mustBook(t, store, bookID)
	if book.AvailableCopies != 0 || book.TotalCopies != 1 {
		t.Fatalf("book = %+v, want available 0 total 1", book)
	}
}

func TestBorrowReturn_ConcurrentChurnKeepsInvariant(t *testing.T) {
	store, svc, _ := setup(t)
	bookID := seedBook(store, 3)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := seedUser(store)
			loan, err := svc.Borrow(context.Background(), userID, bookID)
			if err != nil {
				return // no copy for us this round
			}
			if _, err := svc.Return(context.Background(), loan.ID); err != nil {
				panic(fmt.Sprintf("return: %v", err))
			}
		}()
	}
	wg.Wait()

	book := mustBook(t, store, bookID)
	if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		t.Fatalf("invariant violated: %+v", book)
	}
	if book.AvailableCopies != 3 {
		t.Fatalf("available = %d, want 3 after all returns", book.AvailableCopies)
	}
}
