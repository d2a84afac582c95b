package library

// Read-model rows for list endpoints and reports: circulation records joined
// with the user and book columns the UI displays.

// LoanDetail is a loan with its borrower and book attached.
type LoanDetail struct {
	Loan
	UserName  string
	UserEmail string
	BookTitle string
	ISBN      string
}

// ReservationDetail is a reservation with its holder, book and computed queue
// position attached.
type ReservationDetail struct {
	Reservation
	UserName      string
	UserEmail     string
	BookTitle     string
	ISBN          string
	QueuePosition int
}
