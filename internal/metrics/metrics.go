// Package metrics defines the counter sink used by the exchange components.
package metrics

import "context"

// Recorder counts named events. The CloudWatch recorder in internal/aws
// implements it.
type Recorder interface {
	Count(ctx context.Context, name string, dims map[string]string) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(context.Context, string, map[string]string) error { return nil }
