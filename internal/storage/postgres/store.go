// Package postgres provides the pgx-backed storage implementation behind the
// circulation engine and the read/report queries. The schema lives under
// db/migrations. Circulation transactions lock the target book row with
// SELECT ... FOR UPDATE so the availability check and the copy-count write
// are a single atomic step; a local lock_timeout bounds acquisition and
// surfaces as a retryable error.
package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomdray/library/internal/errs"
	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/circulation"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// mapErr normalizes infra failures. Lock timeouts, deadlocks, serialization
// failures and cancelled contexts become errs.ErrTransient so the API layer
// can answer with a retryable status.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrConflict) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transient("operation timed out")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return errs.Transient("could not acquire lock, retry")
		}
	}
	return err
}

// --- Circulation transactions ---

// Begin implements circulation.Store.
func (s *Store) Begin(ctx context.Context) (circulation.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	// Bound row-lock acquisition so a contended book cannot stall requests.
	if _, err := tx.Exec(ctx, `set local lock_timeout = '3s'`); err != nil {
		_ = tx.Rollback(ctx)
		return nil, mapErr(err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps a pgx.Tx and implements circulation.Tx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error   { return mapErr(t.tx.Commit(ctx)) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// BookForUpdate locks the book row for the rest of the transaction.
func (t *Tx) BookForUpdate(ctx context.Context, bookID uuid.UUID) (library.Book, error) {
	var b library.Book
	err := t.tx.QueryRow(ctx, `
		select id, isbn, title, total_copies, available_copies
		from books
		where id = $1
		for update
	`, bookID).Scan(&b.ID, &b.ISBN, &b.Title, &b.TotalCopies, &b.AvailableCopies)
	if errors.Is(err, pgx.ErrNoRows) {
		return library.Book{}, errs.NotFound("book not found")
	}
	if err != nil {
		return library.Book{}, mapErr(err)
	}
	return b, nil
}

func (t *Tx) SetBookCopies(ctx context.Context, bookID uuid.UUID, total, available int) error {
	ct, err := t.tx.Exec(ctx, `
		update books set total_copies = $2, available_copies = $3 where id = $1
	`, bookID, total, available)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("book not found")
	}
	return nil
}

func (t *Tx) ActiveLoanCountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		select count(*) from loans where user_id = $1 and return_date is null
	`, userID).Scan(&n)
	return n, mapErr(err)
}

func (t *Tx) ActiveLoanCountByBook(ctx context.Context, bookID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		select count(*) from loans where book_id = $1 and return_date is null
	`, bookID).Scan(&n)
	return n, mapErr(err)
}

func (t *Tx) HasActiveLoan(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		select exists(
			select 1 from loans where user_id = $1 and book_id = $2 and return_date is null
		)
	`, userID, bookID).Scan(&exists)
	return exists, mapErr(err)
}

func (t *Tx) CreateLoan(ctx context.Context, l library.Loan) error {
	minor, _ := l.Fine.MinorUnits()
	_, err := t.tx.Exec(ctx, `
		insert into loans (id, user_id, book_id, borrow_date, due_date, return_date, status, fine_amount_minor, fine_currency)
		values ($1, $2, $3, $4, $5, null, $6, $7, $8)
	`, l.ID, l.UserID, l.BookID, l.BorrowDate, l.DueDate, l.Status, minor, l.Fine.Curr().Code())
	return mapErr(err)
}

func (t *Tx) LoanForUpdate(ctx context.Context, loanID uuid.UUID) (library.Loan, error) {
	l, err := scanLoan(t.tx.QueryRow(ctx, `
		select id, user_id, book_id, borrow_date, due_date, return_date, status, fine_amount_minor, fine_currency
		from loans
		where id = $1
		for update
	`, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return library.Loan{}, errs.NotFound("loan not found")
	}
	if err != nil {
		return library.Loan{}, mapErr(err)
	}
	return l, nil
}

func (t *Tx) FinalizeReturn(ctx context.Context, l library.Loan) error {
	minor, _ := l.Fine.MinorUnits()
	ct, err := t.tx.Exec(ctx, `
		update loans
		set return_date = $2, status = $3, fine_amount_minor = $4
		where id = $1
	`, l.ID, l.ReturnDate, l.Status, minor)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("loan not found")
	}
	return nil
}

func (t *Tx) HasActiveReservation(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		select exists(
			select 1 from reservations where user_id = $1 and book_id = $2 and status = 'active'
		)
	`, userID, bookID).Scan(&exists)
	return exists, mapErr(err)
}

func (t *Tx) CreateReservation(ctx context.Context, r library.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		insert into reservations (id, user_id, book_id, reserved_at, status)
		values ($1, $2, $3, $4, $5)
	`, r.ID, r.UserID, r.BookID, r.ReservedAt, r.Status)
	return mapErr(err)
}

func (t *Tx) QueuePosition(ctx context.Context, r library.Reservation) (int, error) {
	var pos int
	err := t.tx.QueryRow(ctx, `
		select count(*) + 1
		from reservations
		where book_id = $1 and status = 'active' and reserved_at < $2
	`, r.BookID, r.ReservedAt).Scan(&pos)
	return pos, mapErr(err)
}

func (t *Tx) ReservationForUpdate(ctx context.Context, reservationID uuid.UUID) (library.Reservation, error) {
	var r library.Reservation
	err := t.tx.QueryRow(ctx, `
		select id, user_id, book_id, reserved_at, status
		from reservations
		where id = $1
		for update
	`, reservationID).Scan(&r.ID, &r.UserID, &r.BookID, &r.ReservedAt, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return library.Reservation{}, errs.NotFound("reservation not found")
	}
	if err != nil {
		return library.Reservation{}, mapErr(err)
	}
	return r, nil
}

func (t *Tx) SetReservationStatus(ctx context.Context, reservationID uuid.UUID, status library.ReservationStatus) error {
	ct, err := t.tx.Exec(ctx, `
		update reservations set status = $2 where id = $1
	`, reservationID, status)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("reservation not found")
	}
	return nil
}

// --- Book reads/writes outside the engine ---

// BookByID returns a single book.
func (s *Store) BookByID(ctx context.Context, bookID uuid.UUID) (library.Book, error) {
	var b library.Book
	err := s.pool.QueryRow(ctx, `
		select id, isbn, title, total_copies, available_copies from books where id = $1
	`, bookID).Scan(&b.ID, &b.ISBN, &b.Title, &b.TotalCopies, &b.AvailableCopies)
	if errors.Is(err, pgx.ErrNoRows) {
		return library.Book{}, errs.NotFound("book not found")
	}
	if err != nil {
		return library.Book{}, mapErr(err)
	}
	return b, nil
}

// CreateBook inserts a catalog record.
func (s *Store) CreateBook(ctx context.Context, b library.Book) (library.Book, error) {
	_, err := s.pool.Exec(ctx, `
		insert into books (id, isbn, title, total_copies, available_copies)
		values ($1, $2, $3, $4, $5)
	`, b.ID, b.ISBN, b.Title, b.TotalCopies, b.AvailableCopies)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return library.Book{}, errs.Conflict("a book with this ISBN already exists")
		}
		return library.Book{}, mapErr(err)
	}
	return b, nil
}

// CreateUser inserts a user row. Used by dev seeding and fixtures; account
// management proper lives outside this service.
func (s *Store) CreateUser(ctx context.Context, u library.User) (library.User, error) {
	_, err := s.pool.Exec(ctx, `
		insert into users (id, name, email, role) values ($1, $2, $3, $4)
	`, u.ID, u.Name, u.Email, u.Role)
	if err != nil {
		return library.User{}, mapErr(err)
	}
	return u, nil
}

// SeedDev inserts a member, a librarian and two books for quick local
// testing. Fresh UUIDs each run keep it idempotent; emails embed the user id
// to dodge the unique constraint.
func (s *Store) SeedDev(ctx context.Context) ([]library.User, []library.Book, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	member := library.User{ID: uuid.New(), Name: "Dev Member", Role: library.RoleMember}
	staff := library.User{ID: uuid.New(), Name: "Dev Librarian", Role: library.RoleLibrarian}
	member.Email = "member+" + member.ID.String()[:8] + "@example.com"
	staff.Email = "librarian+" + staff.ID.String()[:8] + "@example.com"
	users := []library.User{member, staff}
	for _, u := range users {
		if _, err := tx.Exec(ctx, `insert into users (id, name, email, role) values ($1, $2, $3, $4)`, u.ID, u.Name, u.Email, u.Role); err != nil {
			return nil, nil, err
		}
	}

	books := []library.Book{
		{ID: uuid.New(), ISBN: "isbn-" + uuid.New().String()[:13], Title: "The Go Programming Language", TotalCopies: 2, AvailableCopies: 2},
		{ID: uuid.New(), ISBN: "isbn-" + uuid.New().String()[:13], Title: "Designing Data-Intensive Applications", TotalCopies: 1, AvailableCopies: 1},
	}
	for _, b := range books {
		if _, err := tx.Exec(ctx, `
			insert into books (id, isbn, title, total_copies, available_copies)
			values ($1, $2, $3, $4, $5)
		`, b.ID, b.ISBN, b.Title, b.TotalCopies, b.AvailableCopies); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return users, books, nil
}

// scanLoan reads a loan row including the money columns.
func scanLoan(row pgx.Row) (library.Loan, error) {
	var l library.Loan
	var minor int64
	var curr string
	if err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.BorrowDate, &l.DueDate, &l.ReturnDate, &l.Status, &minor, &curr); err != nil {
		return library.Loan{}, err
	}
	fine, err := money.NewAmountFromMinorUnits(curr, minor)
	if err != nil {
		return library.Loan{}, err
	}
	l.Fine = fine
	return l, nil
}
