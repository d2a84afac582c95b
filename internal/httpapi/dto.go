package httpapi

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/reports"
)

const dateLayout = "2006-01-02"

type borrowRequest struct {
	BookID uuid.UUID `json:"book_id"`
}

type loanResponse struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	BookID          uuid.UUID          `json:"book_id"`
	UserName        string             `json:"user_name,omitempty"`
	UserEmail       string             `json:"user_email,omitempty"`
	BookTitle       string             `json:"book_title,omitempty"`
	ISBN            string             `json:"isbn,omitempty"`
	BorrowDate      string             `json:"borrow_date"`
	DueDate         string             `json:"due_date"`
	ReturnDate      *string            `json:"return_date,omitempty"`
	Status          library.LoanStatus `json:"status"`
	DaysOverdue     int                `json:"days_overdue"`
	FineAmountMinor int64              `json:"fine_amount_minor"`
	FineAmount      string             `json:"fine_amount"`
}

type returnResponse struct {
	LoanID          uuid.UUID `json:"loan_id"`
	FineAmountMinor int64     `json:"fine_amount_minor"`
	FineAmount      string    `json:"fine_amount"`
	DaysLate        int       `json:"days_late"`
}

type reserveRequest struct {
	BookID uuid.UUID `json:"book_id"`
}

type reservationCreatedResponse struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	QueuePosition int       `json:"queue_position"`
}

type reservationResponse struct {
	ID            uuid.UUID                 `json:"id"`
	UserID        uuid.UUID                 `json:"user_id"`
	BookID        uuid.UUID                 `json:"book_id"`
	UserName      string                    `json:"user_name,omitempty"`
	UserEmail     string                    `json:"user_email,omitempty"`
	BookTitle     string                    `json:"book_title,omitempty"`
	ISBN          string                    `json:"isbn,omitempty"`
	ReservedAt    time.Time                 `json:"reserved_at"`
	Status        library.ReservationStatus `json:"status"`
	QueuePosition int                       `json:"queue_position"`
}

type bookResponse struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
}

type createBookRequest struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	TotalCopies int    `json:"total_copies"`
}

type updateCopiesRequest struct {
	TotalCopies int `json:"total_copies"`
}

type statisticsResponse struct {
	Books struct {
		UniqueTitles    int `json:"unique_titles"`
		TotalCopies     int `json:"total_copies"`
		AvailableCopies int `json:"available_copies"`
		BorrowedCopies  int `json:"borrowed_copies"`
	} `json:"books"`
	Loans struct {
		Active  int `json:"active"`
		Overdue int `json:"overdue"`
	} `json:"loans"`
	Reservations struct {
		Active int `json:"active"`
	} `json:"reservations"`
	Members struct {
		Total int `json:"total"`
	} `json:"members"`
	Fines struct {
		Collected   string `json:"collected"`
		Outstanding string `json:"outstanding"`
	} `json:"fines"`
}

type overdueLoanResponse struct {
	loanResponse
	AccruedFineMinor int64  `json:"accrued_fine_minor"`
	AccruedFine      string `json:"accrued_fine"`
}

type bookUsageResponse struct {
	BookID          string `json:"book_id"`
	Title           string `json:"title"`
	ISBN            string `json:"isbn"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	BorrowCount     int    `json:"borrow_count"`
}

type memberActivityResponse struct {
	UserID          string `json:"user_id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	TotalLoans      int    `json:"total_loans"`
	ActiveLoans     int    `json:"active_loans"`
	TotalFinesMinor int64  `json:"total_fines_minor"`
	TotalFines      string `json:"total_fines"`
}

func toBookResponse(b library.Book) bookResponse {
	return bookResponse{ID: b.ID, ISBN: b.ISBN, Title: b.Title, TotalCopies: b.TotalCopies, AvailableCopies: b.AvailableCopies}
}

func toLoanResponse(l library.Loan, today time.Time) loanResponse {
	minor, _ := l.Fine.MinorUnits()
	resp := loanResponse{
		ID:              l.ID,
		UserID:          l.UserID,
		BookID:          l.BookID,
		BorrowDate:      l.BorrowDate.Format(dateLayout),
		DueDate:         l.DueDate.Format(dateLayout),
		Status:          l.EffectiveStatus(today),
		DaysOverdue:     l.DaysOverdue(today),
		FineAmountMinor: minor,
		FineAmount:      formatMinor(minor),
	}
	if l.ReturnDate != nil {
		s := l.ReturnDate.Format(dateLayout)
		resp.ReturnDate = &s
	}
	return resp
}

func toLoanDetailResponse(d library.LoanDetail, today time.Time) loanResponse {
	resp := toLoanResponse(d.Loan, today)
	resp.UserName = d.UserName
	resp.UserEmail = d.UserEmail
	resp.BookTitle = d.BookTitle
	resp.ISBN = d.ISBN
	return resp
}

func toReservationResponse(d library.ReservationDetail) reservationResponse {
	return reservationResponse{
		ID:            d.ID,
		UserID:        d.UserID,
		BookID:        d.BookID,
		UserName:      d.UserName,
		UserEmail:     d.UserEmail,
		BookTitle:     d.BookTitle,
		ISBN:          d.ISBN,
		ReservedAt:    d.ReservedAt,
		Status:        d.Status,
		QueuePosition: d.QueuePosition,
	}
}

func toStatisticsResponse(st reports.Statistics) statisticsResponse {
	var resp statisticsResponse
	resp.Books.UniqueTitles = st.UniqueTitles
	resp.Books.TotalCopies = st.TotalCopies
	resp.Books.AvailableCopies = st.AvailableCopies
	resp.Books.BorrowedCopies = st.BorrowedCopies
	resp.Loans.Active = st.ActiveLoans
	resp.Loans.Overdue = st.OverdueLoans
	resp.Reservations.Active = st.ActiveReservations
	resp.Members.Total = st.TotalMembers
	resp.Fines.Collected = formatAmount(st.FinesCollected)
	resp.Fines.Outstanding = formatAmount(st.FinesOutstanding)
	return resp
}

// formatMinor renders minor units as a 2-decimal string, e.g. 1050 -> "10.50".
func formatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func formatAmount(a money.Amount) string {
	minor, _ := a.MinorUnits()
	return formatMinor(minor)
}
