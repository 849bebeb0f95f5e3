package model

import "errors"

var (
	// ErrInvalidInput marks malformed candles, empty charts and bad arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownTimeframe is returned for identifiers outside the catalog.
	ErrUnknownTimeframe = errors.New("unknown timeframe")
)
