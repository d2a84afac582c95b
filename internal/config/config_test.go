package config

import "testing"

func TestDefault(t *testing.T) {
	c := Default()
	minor, _ := c.FinePerDay.MinorUnits()
	if minor != 50 || c.FinePerDay.Curr().Code() != "USD" {
		t.Fatalf("fine per day = %v, want 0.50 USD", c.FinePerDay)
	}
	if c.LoanDurationDays != 14 || c.MaxLoansPerUser != 5 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("FINE_PER_DAY", "1.25")
	t.Setenv("FINE_CURRENCY", "eur")
	t.Setenv("LOAN_DURATION_DAYS", "21")
	t.Setenv("MAX_LOANS_PER_USER", "3")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	minor, _ := c.FinePerDay.MinorUnits()
	if minor != 125 || c.FinePerDay.Curr().Code() != "EUR" {
		t.Fatalf("fine per day = %v, want 1.25 EUR", c.FinePerDay)
	}
	if c.LoanDurationDays != 21 || c.MaxLoansPerUser != 3 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"FINE_PER_DAY":       "-1",
		"LOAN_DURATION_DAYS": "0",
		"MAX_LOANS_PER_USER": "nope",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
