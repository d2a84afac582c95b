package postgres

// Filtered listings are assembled with goqu rather than string-concatenated
// SQL, so optional filters stay parameterized.

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"

	"github.com/tomdray/library/internal/errs"
	"github.com/tomdray/library/internal/library"
)

const dialect = "postgres"

// queuePositionExpr computes the 1-based rank among active reservations for
// the same book, skipping cancelled and fulfilled rows.
var queuePositionExpr = goqu.L(`(
	select count(*) + 1 from reservations r2
	where r2.book_id = r.book_id and r2.status = 'active' and r2.reserved_at < r.reserved_at
)`)

func loanListQuery() *goqu.SelectDataset {
	return goqu.Dialect(dialect).
		From(goqu.T("loans").As("l")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("l.user_id").Eq(goqu.I("u.id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("l.book_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("l.id"), goqu.I("l.user_id"), goqu.I("l.book_id"),
			goqu.I("l.borrow_date"), goqu.I("l.due_date"), goqu.I("l.return_date"),
			goqu.I("l.status"), goqu.I("l.fine_amount_minor"), goqu.I("l.fine_currency"),
			goqu.I("u.name"), goqu.I("u.email"), goqu.I("b.title"), goqu.I("b.isbn"),
		)
}

// Loans returns loans matching the filter, newest borrow first. Status is
// matched against the effective status derived from dates, not the stored
// column, so "overdue" works without any background status updates.
func (s *Store) Loans(ctx context.Context, f library.LoanFilter) ([]library.LoanDetail, error) {
	ds := loanListQuery()
	if f.UserID != nil {
		ds = ds.Where(goqu.I("l.user_id").Eq(*f.UserID))
	}
	if f.OverdueOnly {
		ds = ds.Where(goqu.I("l.return_date").IsNull(), goqu.I("l.due_date").Lt(f.Today))
	}
	if f.Status != nil {
		switch *f.Status {
		case library.LoanReturned:
			ds = ds.Where(goqu.I("l.return_date").IsNotNull())
		case library.LoanActive:
			ds = ds.Where(goqu.I("l.return_date").IsNull(), goqu.I("l.due_date").Gte(f.Today))
		case library.LoanOverdue:
			ds = ds.Where(goqu.I("l.return_date").IsNull(), goqu.I("l.due_date").Lt(f.Today))
		}
	}
	ds = ds.Order(goqu.I("l.borrow_date").Desc(), goqu.I("l.id").Asc())

	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]library.LoanDetail, 0)
	for rows.Next() {
		d, err := scanLoanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LoanByID returns a loan joined with its user and book.
func (s *Store) LoanByID(ctx context.Context, loanID uuid.UUID) (library.LoanDetail, error) {
	sql, args, err := loanListQuery().Where(goqu.I("l.id").Eq(loanID)).Prepared(true).ToSQL()
	if err != nil {
		return library.LoanDetail{}, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return library.LoanDetail{}, mapErr(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return library.LoanDetail{}, mapErr(err)
		}
		return library.LoanDetail{}, errs.NotFound("loan not found")
	}
	return scanLoanDetail(rows)
}

// Reservations returns reservations matching the filter with computed queue
// positions.
func (s *Store) Reservations(ctx context.Context, f library.ReservationFilter) ([]library.ReservationDetail, error) {
	ds := goqu.Dialect(dialect).
		From(goqu.T("reservations").As("r")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("r.user_id").Eq(goqu.I("u.id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("r.book_id").Eq(goqu.I("b.id")))).
		Select(
			goqu.I("r.id"), goqu.I("r.user_id"), goqu.I("r.book_id"),
			goqu.I("r.reserved_at"), goqu.I("r.status"),
			goqu.I("u.name"), goqu.I("u.email"), goqu.I("b.title"), goqu.I("b.isbn"),
			queuePositionExpr,
		)
	if f.UserID != nil {
		ds = ds.Where(goqu.I("r.user_id").Eq(*f.UserID))
		ds = ds.Order(goqu.I("r.reserved_at").Desc())
	} else {
		ds = ds.Order(goqu.I("r.book_id").Asc(), goqu.I("r.reserved_at").Asc())
	}
	if f.BookID != nil {
		ds = ds.Where(goqu.I("r.book_id").Eq(*f.BookID))
	}
	if f.Status != nil {
		ds = ds.Where(goqu.I("r.status").Eq(string(*f.Status)))
	}

	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]library.ReservationDetail, 0)
	for rows.Next() {
		var d library.ReservationDetail
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.BookID, &d.ReservedAt, &d.Status,
			&d.UserName, &d.UserEmail, &d.BookTitle, &d.ISBN, &d.QueuePosition,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanLoanDetail(rows pgx.Rows) (library.LoanDetail, error) {
	var d library.LoanDetail
	var minor int64
	var curr string
	if err := rows.Scan(
		&d.ID, &d.UserID, &d.BookID, &d.BorrowDate, &d.DueDate, &d.ReturnDate,
		&d.Status, &minor, &curr, &d.UserName, &d.UserEmail, &d.BookTitle, &d.ISBN,
	); err != nil {
		return library.LoanDetail{}, err
	}
	fine, err := money.NewAmountFromMinorUnits(curr, minor)
	if err != nil {
		return library.LoanDetail{}, err
	}
	d.Fine = fine
	return d, nil
}
