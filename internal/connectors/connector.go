// Package connectors gives each supported platform a common entry point for
// connection checks.
package connectors

import (
	"context"
	"fmt"

	"catalogsync/internal/models"
)

type Connector interface {
	Platform() models.Platform
	TestConnection(ctx context.Context) (*TestResult, error)
}

// TestResult reports whether stored credentials work.
type TestResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Builder creates the connector for one stored connection.
type Builder func(conn *models.PlatformConnection) (Connector, error)

// Registry picks a Builder by platform.
type Registry map[models.Platform]Builder

func (r Registry) For(conn *models.PlatformConnection) (Connector, error) {
	build, ok := r[conn.Platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", conn.Platform)
	}
	return build(conn)
}
