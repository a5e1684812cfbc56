package rules

import "errors"

var (
	ErrNoCondition = errors.New("rule needs at least one condition")
	ErrNoAction    = errors.New("rule needs at least one action")
	ErrBadGlob     = errors.New("malformed sender glob")
	ErrBadCategory = errors.New("unknown category")
	ErrBadPriority = errors.New("priority must be between 1 and 5")
)
