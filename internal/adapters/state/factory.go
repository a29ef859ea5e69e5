package state

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Backend selects the checkpoint persistence implementation.
type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

// NewCheckpointer constructs the configured checkpoint store.
func NewCheckpointer(backend Backend, projectDir string) (core.Checkpointer, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONCheckpointer(projectDir)
	case BackendSQLite:
		return NewSQLiteStore(projectDir)
	default:
		return nil, core.ErrValidation("UNKNOWN_BACKEND",
			fmt.Sprintf("unknown state backend %q, available: json, sqlite", backend))
	}
}
