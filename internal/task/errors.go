package task

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidType   = errors.New("invalid task type")
	ErrEmptySource   = errors.New("source input is required")
	ErrEmptyList     = errors.New("import list is empty")
	ErrListTooLong   = fmt.Errorf("import list exceeds %d usernames", MaxQueue)
	ErrInvalidEdge   = errors.New("edge must be followers or following")
	ErrInvalidReason = errors.New("invalid stop reason")
)
