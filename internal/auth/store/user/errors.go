package user

import (
	"fmt"

	"myapi/pkg/platform/sentinel"
)

var (
	ErrNotFound   = fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	ErrEmailTaken = fmt.Errorf("email already registered: %w", sentinel.ErrConflict)
)
