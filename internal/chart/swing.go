package chart

import "cryptocollector/internal/model"

// IsSwing reports whether direction flips between consecutive candles a and b.
func IsSwing(a, b model.Candle) bool {
	return a.IsIncreasing() != b.IsIncreasing()
}

// SwingCandle picks the candle marking the reversal between a and b.
//
// Up→down (local peak): the one with the greater high.
// Down→up (local trough): the one with the greater low.
// Ties go to a. ok is false when the pair is not a swing.
func SwingCandle(a, b model.Candle) (c model.Candle, ok bool) {
	if !IsSwing(a, b) {
		return model.Candle{}, false
	}
	if a.IsIncreasing() {
		if b.High.GreaterThan(a.High) {
			return b, true
		}
		return a, true
	}
	if b.Low.GreaterThan(a.Low) {
		return b, true
	}
	return a, true
}

// Swings returns one swing candle per direction-flipping adjacent pair, in
// series order. A series with no reversals yields an empty slice.
func (ch *Chart) Swings() []model.Candle {
	out := make([]model.Candle, 0)
	for i := 0; i+1 < len(ch.candles); i++ {
		if c, ok := SwingCandle(ch.candles[i], ch.candles[i+1]); ok {
			out = append(out, c)
		}
	}
	return out
}

// SwingsChart wraps the swing sequence in a new Chart. It fails with
// ErrInvalidInput when the series has no reversals.
func (ch *Chart) SwingsChart() (*Chart, error) {
	return New(ch.Swings())
}
