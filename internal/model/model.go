package model

import (
	"context"

	"github.com/stupiduntilnot/personarelay/internal/history"
)

// Fixed sampling parameters sent with every completion request.
const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.9
)

// Request is the provider-agnostic completion request. System is the
// persona prompt; History is the session's stored turns.
type Request struct {
	System      string
	History     []history.Turn
	MaxTokens   int
	Temperature float64
}

// Response is the common response model for model providers.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the completion provider abstraction used by the relay.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// UpstreamError is an error payload returned by a completion provider.
// Error returns the provider's message unchanged.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *UpstreamError) Error() string {
	return e.Message
}
