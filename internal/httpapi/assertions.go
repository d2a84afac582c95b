package httpapi

import (
	"github.com/tomdray/library/internal/storage/memory"
	"github.com/tomdray/library/internal/storage/postgres"
)

// Compile-time checks that both stores satisfy the read-side interfaces.
var (
	_ BookStore         = (*memory.Store)(nil)
	_ LoanReader        = (*memory.Store)(nil)
	_ ReservationReader = (*memory.Store)(nil)

	_ BookStore         = (*postgres.Store)(nil)
	_ LoanReader        = (*postgres.Store)(nil)
	_ ReservationReader = (*postgres.Store)(nil)
)
