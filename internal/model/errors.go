package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidOperation = fmt.Errorf("%w: invalid operation", ErrInvalidInput)
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrLastAdmin        = errors.New("cannot remove the last admin; assign another admin first")
	ErrInternal         = errors.New("internal error")
)
