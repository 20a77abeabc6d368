package meter

import (
	"context"
	"time"
)

// Report is the outcome of one reporting window.
type Report struct {
	Meter    string        `json:"meter"`
	At       time.Time     `json:"at"`
	Window   time.Duration `json:"window"`
	Samples  int           `json:"samples"`
	AvgPower float64       `json:"avg_power_w"`
	Energy   float64       `json:"energy_kwh"`
}

// Sink receives every window report.
type Sink interface {
	WriteReport(ctx context.Context, r Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Report) error

// WriteReport …
func (f SinkFunc) WriteReport(ctx context.Context, r Report) error {
	return f(ctx, r)
}

// GetSet provide simple read interface for the http api
type GetSet interface {
	ID() string
	Get() float64
	Label() string
	Unit() string
}
