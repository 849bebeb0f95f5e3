package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Sample is a single polled price for a symbol.
type Sample struct {
	Symbol string          `json:"symbol"`
	TS     time.Time       `json:"timestamp"` // UTC poll time
	Price  decimal.Decimal `json:"price"`
}

// JSON returns the JSON-encoded sample.
func (s *Sample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
