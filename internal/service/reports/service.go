// Package reports assembles the read-only statistics consumed by staff
// dashboards. Everything here tolerates slight staleness; nothing in this
// package mutates circulation state.
package reports

import (
	"context"
	"time"

	"github.com/govalues/money"

	"github.com/tomdray/library/internal/config"
	"github.com/tomdray/library/internal/library"
)

// Tallies are the raw aggregates the store computes in one pass.
type Tallies struct {
	UniqueTitles        int
	TotalCopies         int
	AvailableCopies     int
	ActiveLoans         int
	OverdueLoans        int
	ActiveReservations  int
	TotalMembers        int
	FinesCollectedMinor int64
}

// BookUsage ranks a book by how often it was borrowed in a window.
type BookUsage struct {
	BookID          string
	Title           string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	BorrowCount     int
}

// MemberActivity aggregates a member's borrowing in a window.
type MemberActivity struct {
	UserID          string
	Name            string
	Email           string
	TotalLoans      int
	ActiveLoans     int
	TotalFinesMinor int64
}

// Repo defines the read operations the report queries need.
type Repo interface {
	Tallies(ctx context.Context) (Tallies, error)
	// OverdueLoans returns unreturned loans whose due date is before today.
	OverdueLoans(ctx context.Context, today time.Time) ([]library.LoanDetail, error)
	MostBorrowed(ctx context.Context, since time.Time, limit int) ([]BookUsage, error)
	MemberActivity(ctx context.Context, since time.Time) ([]MemberActivity, error)
}

// Statistics is the library-wide summary.
type Statistics struct {
	UniqueTitles       int
	TotalCopies        int
	AvailableCopies    int
	BorrowedCopies     int
	ActiveLoans        int
	OverdueLoans       int
	ActiveReservations int
	TotalMembers       int
	FinesCollected     money.Amount
	// FinesOutstanding is accrued on currently overdue loans at the policy
	// rate; it is computed, not read from stored fine columns.
	FinesOutstanding money.Amount
}

// OverdueLoan is an overdue report row with the fine accrued so far.
type OverdueLoan struct {
	library.LoanDetail
	DaysOverdue int
	AccruedFine money.Amount
}

// Service exposes the reporting queries.
type Service interface {
	Statistics(ctx context.Context) (Statistics, error)
	Overdue(ctx context.Context) ([]OverdueLoan, error)
	MostBorrowed(ctx context.Context, days, limit int) ([]BookUsage, error)
	MemberActivity(ctx context.Context, days int) ([]MemberActivity, error)
}

type service struct {
	repo   Repo
	policy config.Circulation
	now    func() time.Time
}

// New constructs the reporting service.
func New(repo Repo, policy config.Circulation) Service {
	return NewWithClock(repo, policy, time.Now)
}

// NewWithClock is New with an injected clock for tests.
func NewWithClock(repo Repo, policy config.Circulation, now func() time.Time) Service {
	return &service{repo: repo, policy: policy, now: now}
}

func (s *service) Statistics(ctx context.Context) (Statistics, error) {
	t, err := s.repo.Tallies(ctx)
	if err != nil {
		return Statistics{}, err
	}
	overdue, err := s.Overdue(ctx)
	if err != nil {
		return Statistics{}, err
	}
	curr := s.policy.FinePerDay.Curr().Code()
	collected, err := money.NewAmountFromMinorUnits(curr, t.FinesCollectedMinor)
	if err != nil {
		return Statistics{}, err
	}
	var outstandingMinor int64
	for _, o := range overdue {
		m, _ := o.AccruedFine.MinorUnits()
		outstandingMinor += m
	}
	outstanding, err := money.NewAmountFromMinorUnits(curr, outstandingMinor)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		UniqueTitles:       t.UniqueTitles,
		TotalCopies:        t.TotalCopies,
		AvailableCopies:    t.AvailableCopies,
		BorrowedCopies:     t.TotalCopies - t.AvailableCopies,
		ActiveLoans:        t.ActiveLoans,
		OverdueLoans:       t.OverdueLoans,
		ActiveReservations: t.ActiveReservations,
		TotalMembers:       t.TotalMembers,
		FinesCollected:     collected,
		FinesOutstanding:   outstanding,
	}, nil
}

func (s *service) Overdue(ctx context.Context) ([]OverdueLoan, error) {
	today := library.DateOf(s.now())
	rows, err := s.repo.OverdueLoans(ctx, today)
	if err != nil {
		return nil, err
	}
	perDay, _ := s.policy.FinePerDay.MinorUnits()
	curr := s.policy.FinePerDay.Curr().Code()
	out := make([]OverdueLoan, 0, len(rows))
	for _, r := range rows {
		days := r.DaysOverdue(today)
		fine, err := money.NewAmountFromMinorUnits(curr, int64(days)*perDay)
		if err != nil {
			return nil, err
		}
		out = append(out, OverdueLoan{LoanDetail: r, DaysOverdue: days, AccruedFine: fine})
	}
	return out, nil
}

func (s *service) MostBorrowed(ctx context.Context, days, limit int) ([]BookUsage, error) {
	if days <= 0 {
		days = 30
	}
	if limit <= 0 {
		limit = 10
	}
	since := library.DateOf(s.now()).AddDate(0, 0, -days)
	return s.repo.MostBorrowed(ctx, since, limit)
}

func (s *service) MemberActivity(ctx context.Context, days int) ([]MemberActivity, error) {
	if days <= 0 {
		days = 30
	}
	since := library.DateOf(s.now()).AddDate(0, 0, -days)
	return s.repo.MemberActivity(ctx, since)
}
