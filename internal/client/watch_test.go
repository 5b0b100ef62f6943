package client

import (
	"testing"
	"time"

	"google.golang.org/grpc/backoff"
)

func TestBackoffDelay(t *testing.T) {
	cfg := backoff.Config{BaseDelay: 100 * time.Millisecond, Multiplier: 2, Jitter: 0, MaxDelay: time.Second}

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.retries); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := backoff.DefaultConfig
	for range 100 {
		d := backoffDelay(cfg, 3)
		base := float64(cfg.BaseDelay) * cfg.Multiplier * cfg.Multiplier * cfg.Multiplier
		lo, hi := time.Duration(base*(1-cfg.Jitter)), time.Duration(base*(1+cfg.Jitter))
		if d < lo || d > hi {
			t.Fatalf("delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}
