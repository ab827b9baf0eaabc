// Package feed defines the market-data domain: bars, providers and the
// batch downloader that drives every provider call through the admission
// chain.
package feed

import "time"

// Instrument identifies one tradable instrument to retrieve.
type Instrument struct {
	// Symbol is the provider-agnostic symbol, e.g. "ESZ6".
	Symbol string `yaml:"symbol"`

	// Exchange is optional venue context some providers require.
	Exchange string `yaml:"exchange,omitempty"`
}

// Bar is one daily OHLCV bar.
type Bar struct {
	Symbol string
	Day    time.Time // calendar day, UTC midnight
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}
