package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomdray/library/internal/config"
	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/circulation"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func applyInitSQL(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for init: %v", err)
	}
	defer s.Close()
	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	path := filepath.Join(repoRoot, "db", "migrations", "0001_init.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
}

func truncateAll(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for truncate: %v", err)
	}
	defer s.Close()
	_, _ = s.pool.Exec(ctx, `truncate table reservations, loans, books, users cascade`)
}

func seedCirculation(t *testing.T, ctx context.Context, s *Store) (library.User, library.Book) {
	t.Helper()
	user, err := s.CreateUser(ctx, library.User{ID: uuid.New(), Name: "Maya Patel", Email: "maya@example.com", Role: library.RoleMember})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	book, err := s.CreateBook(ctx, library.Book{ID: uuid.New(), ISBN: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 1, AvailableCopies: 1})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return user, book
}

func TestStore_BorrowReturnRoundTrip(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()

	if err := s.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	user, book := seedCirculation(t, ctx, s)

	svc := circulation.New(s, config.Default())
	loan, err := svc.Borrow(ctx, user.ID, book.ID)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	got, err := s.BookByID(ctx, book.ID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if got.AvailableCopies != 0 {
		t.Fatalf("available = %d, want 0", got.AvailableCopies)
	}

	detail, err := s.LoanByID(ctx, loan.ID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if detail.UserName != user.Name || detail.BookTitle != book.Title {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	receipt, err := svc.Return(ctx, loan.ID)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if receipt.DaysLate != 0 {
		t.Fatalf("days late = %d, want 0", receipt.DaysLate)
	}
	got, err = s.BookByID(ctx, book.ID)
	if err != nil {
		t.Fatalf("book after return: %v", err)
	}
	if got.AvailableCopies != 1 {
		t.Fatalf("available = %d, want 1", got.AvailableCopies)
	}
}

func TestStore_ReservationQueue(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()
	user, book := seedCirculation(t, ctx, s)
	waiter, err := s.CreateUser(ctx, library.User{ID: uuid.New(), Name: "Kai Chen", Email: "kai@example.com", Role: library.RoleMember})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	svc := circulation.New(s, config.Default())
	if _, err := svc.Borrow(ctx, user.ID, book.ID); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	placement, err := svc.Reserve(ctx, waiter.ID, book.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if placement.QueuePosition != 1 {
		t.Fatalf("position = %d, want 1", placement.QueuePosition)
	}

	rs, err := s.Reservations(ctx, library.ReservationFilter{UserID: &waiter.ID})
	if err != nil {
		t.Fatalf("reservations: %v", err)
	}
	if len(rs) != 1 || rs[0].QueuePosition != 1 || rs[0].BookTitle != book.Title {
		t.Fatalf("unexpected reservations: %+v", rs)
	}

	actor := library.Actor{UserID: waiter.ID, Role: library.RoleMember}
	if err := svc.CancelReservation(ctx, placement.Reservation.ID, actor); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestStore_TalliesAndReports(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()
	user, book := seedCirculation(t, ctx, s)

	svc := circulation.New(s, config.Default())
	if _, err := svc.Borrow(ctx, user.ID, book.ID); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	tallies, err := s.Tallies(ctx)
	if err != nil {
		t.Fatalf("tallies: %v", err)
	}
	if tallies.UniqueTitles != 1 || tallies.ActiveLoans != 1 || tallies.TotalMembers != 1 {
		t.Fatalf("unexpected tallies: %+v", tallies)
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	usage, err := s.MostBorrowed(ctx, since, 10)
	if err != nil {
		t.Fatalf("most borrowed: %v", err)
	}
	if len(usage) != 1 || usage[0].BorrowCount != 1 {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	activity, err := s.MemberActivity(ctx, since)
	if err != nil {
		t.Fatalf("member activity: %v", err)
	}
	if len(activity) != 1 || activity[0].ActiveLoans != 1 {
		t.Fatalf("unexpected activity: %+v", activity)
	}
}
