package leveling

import "errors"

var (
	ErrNotFound      = errors.New("leveling: not found")
	ErrInvalidAmount = errors.New("leveling: invalid amount (must be > 0)")
	ErrInvalidInput  = errors.New("leveling: invalid input")
	ErrCooldown      = errors.New("leveling: cooldown active")
)
