// Package notify posts transfer outcomes to an optional webhook.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/go-resty/resty/v2"
)

// Event is the JSON body sent for every finished transfer.
type Event struct {
	ID          string  `json:"id"`
	Plot        string  `json:"plot"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Status      string  `json:"status"`
	Size        int64   `json:"size"`
	Seconds     float64 `json:"duration_seconds"`
	SpeedMiB    float64 `json:"speed_mib_s"`
	Error       string  `json:"error,omitempty"`
}

type Notifier struct {
	Endpoint   string
	Key        string
	Attempts   int
	RetryDelay time.Duration
	Logger     logging.Logger

	client *resty.Client
}

func New(endpoint, key string, logger logging.Logger) *Notifier {
	return &Notifier{
		Endpoint:   endpoint,
		Key:        key,
		Attempts:   3,
		RetryDelay: 2 * time.Second,
		Logger:     logging.OrDiscard(logger),
		client:     resty.New().SetTimeout(30 * time.Second),
	}
}

// Send posts ev, retrying on transport errors and non-2xx answers. A failed
// notification is logged and returned but never affects the transfer.
func (n *Notifier) Send(ctx context.Context, ev Event) error {
	logger := logging.OrDiscard(n.Logger)
	attempts := n.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		req := n.client.R().
			SetContext(ctx).
			SetBody(ev)
		if n.Key != "" {
			req.SetHeader("Authorization", "Bearer "+n.Key)
		}

		resp, err := req.Post(n.Endpoint)
		if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode())
		}
		logging.Debugf(logger, "[notify] attempt %d for %s failed: %v", i+1, ev.Plot, lastErr)

		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(n.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Warningf("[notify] Could not deliver event for %s after %d attempts: %v", ev.Plot, attempts, lastErr)
	return fmt.Errorf("notify %s: %w", n.Endpoint, lastErr)
}
