package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProvider marks transport, auth or rate-limit failures reported by an upstream.
	ErrProvider = errors.New("provider error")
	// ErrEmptyResult marks a well-formed response without rows.
	ErrEmptyResult = errors.New("empty result")
)

// Capability is the kind of data a provider can serve.
type Capability string

const (
	Prices      Capability = "prices"
	IndexPrices Capability = "index-prices"
	Weights     Capability = "weights"
)

// Unit is one item of acquisition work. Daily stock units have no Code and
// Start == End; index and weight units cover an instrument over a window.
type Unit struct {
	Capability Capability
	Code       string
	Start      string
	End        string
}

// Day builds a daily stock unit.
func Day(date string) Unit { return Unit{Capability: Prices, Start: date, End: date} }

// Key identifies the unit for logs and sinks.
func (u Unit) Key() string {
	if u.Code == "" {
		if u.Start == u.End {
			return u.Start
		}
		return u.Start + "-" + u.End
	}
	return fmt.Sprintf("%s:%s-%s", u.Code, u.Start, u.End)
}

func (u Unit) String() string { return string(u.Capability) + "/" + u.Key() }

// Frame is a provider's raw tabular response. Values are kept as strings until
// normalization to avoid float rounding.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// NewFrame returns an empty frame with the given header.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: columns}
}

// Len returns the number of rows; nil frames have none.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Empty reports whether f carries no rows.
func (f *Frame) Empty() bool { return f.Len() == 0 }

// Index returns the position of col or -1.
func (f *Frame) Index(col string) int {
	if f == nil {
		return -1
	}
	for i, c := range f.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Append adds a row. Short rows are padded so every row matches the header.
func (f *Frame) Append(values ...string) {
	row := make([]string, len(f.Columns))
	copy(row, values)
	f.Rows = append(f.Rows, row)
}

// Provider is the uniform interface every upstream is wrapped behind.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, u Unit) (*Frame, error)
}

// Descriptor is the static configuration of a provider in a chain.
type Descriptor struct {
	Name       string
	Rank       int
	Capability Capability
	// Timeout overrides the process-wide call deadline when > 0.
	Timeout time.Duration
}

// Func adapts a function to Provider.
type Func struct {
	ProviderName string
	F            func(ctx context.Context, u Unit) (*Frame, error)
}

func (f Func) Name() string { return f.ProviderName }

func (f Func) Fetch(ctx context.Context, u Unit) (*Frame, error) { return f.F(ctx, u) }
