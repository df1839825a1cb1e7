package strategy

import "errors"

var (
	// ErrInsufficientData means the bar window cannot support a computation
	ErrInsufficientData = errors.New("insufficient data")
	// ErrBroker wraps any failed or timed-out broker call
	ErrBroker = errors.New("broker failure")

	ErrAlreadyRunning   = errors.New("strategy already running")
	ErrNotRunning       = errors.New("strategy not running")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrInvalidSymbol    = errors.New("invalid symbol")
)
