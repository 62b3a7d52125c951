package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthProbe polls an HTTP endpoint until it answers 200 or the attempt
// budget is exhausted. Each attempt carries its own short timeout so a hung
// server cannot stall the loop; the total wait is therefore bounded by
// Attempts * (attempt timeout + Interval).
type HealthProbe struct {
	Client   *http.Client  // per-attempt timeout lives here
	Attempts int           // total attempts before giving up
	Interval time.Duration // pause between attempts
}

// DefaultProbe returns a probe matching the common server-backed provider
// budget: 30 attempts, 1s apart, 2s per request.
func DefaultProbe() HealthProbe {
	return HealthProbe{
		Client:   &http.Client{Timeout: 2 * time.Second},
		Attempts: 30,
		Interval: time.Second,
	}
}

// Wait blocks until url answers 200, the attempts run out
// (ErrStartupTimeout), or ctx is cancelled.
func (p HealthProbe) Wait(ctx context.Context, url string) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	for i := 0; i < p.Attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("health probe: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	return ErrStartupTimeout
}
