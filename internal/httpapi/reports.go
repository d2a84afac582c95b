package httpapi

import (
	"net/http"
	"strconv"
)

// statistics handles GET /v1/reports/statistics (staff only).
func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.reports.Statistics(r.Context())
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toStatisticsResponse(st))
}

// overdueReport handles GET /v1/reports/overdue (staff only).
func (s *Server) overdueReport(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reports.Overdue(r.Context())
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	today := s.today()
	out := make([]overdueLoanResponse, 0, len(rows))
	for _, row := range rows {
		minor, _ := row.AccruedFine.MinorUnits()
		out = append(out, overdueLoanResponse{
			loanResponse:     toLoanDetailResponse(row.LoanDetail, today),
			AccruedFineMinor: minor,
			AccruedFine:      formatMinor(minor),
		})
	}
	toJSON(w, http.StatusOK, out)
}

// mostBorrowed handles GET /v1/reports/most-borrowed?days=30&limit=10
// (staff only).
func (s *Server) mostBorrowed(w http.ResponseWriter, r *http.Request) {
	days, ok := intQuery(w, r, "days")
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	rows, err := s.reports.MostBorrowed(r.Context(), days, limit)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	out := make([]bookUsageResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, bookUsageResponse{
			BookID:          row.BookID,
			Title:           row.Title,
			ISBN:            row.ISBN,
			TotalCopies:     row.TotalCopies,
			AvailableCopies: row.AvailableCopies,
			BorrowCount:     row.BorrowCount,
		})
	}
	toJSON(w, http.StatusOK, out)
}

// memberActivity handles GET /v1/reports/member-activity?days=30 (staff only).
func (s *Server) memberActivity(w http.ResponseWriter, r *http.Request) {
	days, ok := intQuery(w, r, "days")
	if !ok {
		return
	}
	rows, err := s.reports.MemberActivity(r.Context(), days)
	if err != nil {
		s.writeDomainErr(w, err)
		return
	}
	out := make([]memberActivityResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, memberActivityResponse{
			UserID:          row.UserID,
			Name:            row.Name,
			Email:           row.Email,
			TotalLoans:      row.TotalLoans,
			ActiveLoans:     row.ActiveLoans,
			TotalFinesMinor: row.TotalFinesMinor,
			TotalFines:      formatMinor(row.TotalFinesMinor),
		})
	}
	toJSON(w, http.StatusOK, out)
}

// intQuery parses an optional non-negative integer query parameter; zero means
// "use the default".
func intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(w, "invalid "+name)
		return 0, false
	}
	return n, true
}
