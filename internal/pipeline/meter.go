package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
)

type meterKey struct{}

// meter counts completion attempts for one run. Batch runs share a service,
// so the count travels in the context rather than on the service.
type meter struct{ n atomic.Int64 }

func (m *meter) count() int { return int(m.n.Load()) }

func withMeter(ctx context.Context) (context.Context, *meter) {
	m := &meter{}
	return context.WithValue(ctx, meterKey{}, m), m
}

// Metered wraps a Service so calls made under Run are counted on the Outcome.
func Metered(next llm.Service) llm.Service {
	return llm.ServiceFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		resp, err := next.Complete(ctx, req)
		if m, ok := ctx.Value(meterKey{}).(*meter); ok {
			n := int64(1)
			var re *llm.RetryError
			switch {
			case resp != nil && resp.Attempts > 1:
				n = int64(resp.Attempts)
			case errors.As(err, &re):
				n = int64(re.Attempts)
			}
			m.n.Add(n)
		}
		return resp, err
	})
}
