package memory

import (
	"github.com/tomdray/library/internal/service/circulation"
	"github.com/tomdray/library/internal/service/reports"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	_ circulation.Store = (*Store)(nil)
	_ reports.Repo      = (*Store)(nil)
)
