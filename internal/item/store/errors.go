// Package store persists items. Stores return sentinel errors; the service
// maps them to domain errors.
package store

import (
	"fmt"

	"myapi/pkg/platform/sentinel"
)

var (
	ErrNotFound        = fmt.Errorf("item %w", sentinel.ErrNotFound)
	ErrVersionMismatch = fmt.Errorf("item %w", sentinel.ErrVersionMismatch)
	ErrAlreadyExists   = fmt.Errorf("item %w", sentinel.ErrConflict)
)
