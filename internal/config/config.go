// Package config holds the circulation policy knobs. Values come from the
// environment with the same defaults the library has always run with.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/govalues/money"
)

// Circulation captures the business rules the engine enforces.
type Circulation struct {
	// FinePerDay is charged for each whole day a returned loan is late.
	FinePerDay money.Amount
	// LoanDurationDays sets the due date relative to the borrow date.
	LoanDurationDays int
	// MaxLoansPerUser caps concurrent active loans per user.
	MaxLoansPerUser int
}

const (
	defaultFinePerDayMinor = 50 // 0.50 in minor units
	defaultLoanDuration    = 14
	defaultMaxLoans        = 5
	defaultCurrency        = "USD"
)

// Default returns the stock policy: 0.50/day fine, 14 day loans, 5 loans per user.
func Default() Circulation {
	fine, _ := money.NewAmountFromMinorUnits(defaultCurrency, defaultFinePerDayMinor)
	return Circulation{
		FinePerDay:       fine,
		LoanDurationDays: defaultLoanDuration,
		MaxLoansPerUser:  defaultMaxLoans,
	}
}

// FromEnv builds the policy from FINE_PER_DAY, FINE_CURRENCY,
// LOAN_DURATION_DAYS and MAX_LOANS_PER_USER, falling back to defaults for
// unset values.
func FromEnv() (Circulation, error) {
	c := Default()

	currency := strings.ToUpper(strings.TrimSpace(os.Getenv("FINE_CURRENCY")))
	if currency == "" {
		currency = defaultCurrency
	}

	fineMinor := int64(defaultFinePerDayMinor)
	if raw := strings.TrimSpace(os.Getenv("FINE_PER_DAY")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return Circulation{}, fmt.Errorf("FINE_PER_DAY: invalid value %q", raw)
		}
		fineMinor = int64(math.Round(f * 100))
	}
	fine, err := money.NewAmountFromMinorUnits(currency, fineMinor)
	if err != nil {
		return Circulation{}, fmt.Errorf("FINE_CURRENCY: %w", err)
	}
	c.FinePerDay = fine

	if raw := strings.TrimSpace(os.Getenv("LOAN_DURATION_DAYS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Circulation{}, fmt.Errorf("LOAN_DURATION_DAYS: invalid value %q", raw)
		}
		c.LoanDurationDays = n
	}
	if raw := strings.TrimSpace(os.Getenv("MAX_LOANS_PER_USER")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Circulation{}, fmt.Errorf("MAX_LOANS_PER_USER: invalid value %q", raw)
		}
		c.MaxLoansPerUser = n
	}
	return c, nil
}
