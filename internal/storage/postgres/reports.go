package postgres

import (
	"context"
	"time"

	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/reports"
)

// Tallies implements reports.Repo with a single aggregate pass per table.
func (s *Store) Tallies(ctx context.Context) (reports.Tallies, error) {
	var t reports.Tallies
	err := s.pool.QueryRow(ctx, `
		select count(*), coalesce(sum(total_copies), 0), coalesce(sum(available_copies), 0)
		from books
	`).Scan(&t.UniqueTitles, &t.TotalCopies, &t.AvailableCopies)
	if err != nil {
		return reports.Tallies{}, mapErr(err)
	}
	err = s.pool.QueryRow(ctx, `
		select
			count(*) filter (where return_date is null),
			count(*) filter (where return_date is null and due_date < current_date),
			coalesce(sum(fine_amount_minor) filter (where return_date is not null), 0)
		from loans
	`).Scan(&t.ActiveLoans, &t.OverdueLoans, &t.FinesCollectedMinor)
	if err != nil {
		return reports.Tallies{}, mapErr(err)
	}
	err = s.pool.QueryRow(ctx, `
		select count(*) from reservations where status = 'active'
	`).Scan(&t.ActiveReservations)
	if err != nil {
		return reports.Tallies{}, mapErr(err)
	}
	err = s.pool.QueryRow(ctx, `
		select count(*) from users where role = 'member'
	`).Scan(&t.TotalMembers)
	if err != nil {
		return reports.Tallies{}, mapErr(err)
	}
	return t, nil
}

// OverdueLoans implements reports.Repo.
func (s *Store) OverdueLoans(ctx context.Context, today time.Time) ([]library.LoanDetail, error) {
	rows, err := s.pool.Query(ctx, `
		select l.id, l.user_id, l.book_id, l.borrow_date, l.due_date, l.return_date,
		       l.status, l.fine_amount_minor, l.fine_currency,
		       u.name, u.email, b.title, b.isbn
		from loans l
		join users u on l.user_id = u.id
		join books b on l.book_id = b.id
		where l.return_date is null and l.due_date < $1
		order by l.due_date asc
	`, today)
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

// MostBorrowed implements reports.Repo.
func (s *Store) MostBorrowed(ctx context.Context, since time.Time, limit int) ([]reports.BookUsage, error) {
	rows, err := s.pool.Query(ctx, `
		select b.id, b.title, b.isbn, b.total_copies, b.available_copies, count(l.id)
		from books b
		join loans l on b.id = l.book_id
		where l.borrow_date >= $1
		group by b.id
		order by count(l.id) desc, b.id asc
		limit $2
	`, since, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]reports.BookUsage, 0)
	for rows.Next() {
		var u reports.BookUsage
		if err := rows.Scan(&u.BookID, &u.Title, &u.ISBN, &u.TotalCopies, &u.AvailableCopies, &u.BorrowCount); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MemberActivity implements reports.Repo.
func (s *Store) MemberActivity(ctx context.Context, since time.Time) ([]reports.MemberActivity, error) {
	rows, err := s.pool.Query(ctx, `
		select u.id, u.name, u.email,
		       count(l.id),
		       count(l.id) filter (where l.return_date is null),
		       coalesce(sum(l.fine_amount_minor), 0)
		from users u
		left join loans l on u.id = l.user_id and l.borrow_date >= $1
		where u.role = 'member'
		group by u.id
		order by count(l.id) desc, u.id asc
	`, since)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]reports.MemberActivity, 0)
	for rows.Next() {
		var a reports.MemberActivity
		if err := rows.Scan(&a.UserID, &a.Name, &a.Email, &a.TotalLoans, &a.ActiveLoans, &a.TotalFinesMinor); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
