// ABOUTME: Tests for poll policy validation and the wait interval sequence
// ABOUTME: Validates defaults, growth with a cap, jitter bounds and worst-case duration

package poller

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	if p.MaxAttempts != 15 || p.Interval != 5*time.Second || p.Timeout != 120*time.Second || p.CompletionThresholdPercent != 90 {
		t.Errorf("DefaultPolicy() = %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := p.WorstCase(); got != 70*time.Second {
		t.Errorf("WorstCase() = %v, want 70s", got)
	}
}

func TestPolicy_LimitedFinalQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		perToken time.Duration
		burst    int
		want     time.Duration
	}{
		{name: "unlimited", want: 70 * time.Second},
		{name: "4 per minute", perToken: 15 * time.Second, burst: 4, want: 180 * time.Second},
		{name: "6 per minute", perToken: 10 * time.Second, burst: 6, want: 100 * time.Second},
		{name: "burst covers session", perToken: 3 * time.Second, burst: 20, want: 70 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := DefaultPolicy().LimitedFinalQuery(tt.perToken, tt.burst); got != tt.want {
				t.Errorf("LimitedFinalQuery(%v, %d) = %v, want %v", tt.perToken, tt.burst, got, tt.want)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Policy) {}},
		{name: "zero attempts", mutate: func(p *Policy) { p.MaxAttempts = 0 }, wantErr: true},
		{name: "zero interval", mutate: func(p *Policy) { p.Interval = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(p *Policy) { p.Timeout = 0 }, wantErr: true},
		{name: "threshold over 100", mutate: func(p *Policy) { p.CompletionThresholdPercent = 101 }, wantErr: true},
		{name: "threshold zero", mutate: func(p *Policy) { p.CompletionThresholdPercent = 0 }, wantErr: true},
		{name: "shrinking multiplier", mutate: func(p *Policy) { p.Multiplier = 0.5 }, wantErr: true},
		{name: "negative max interval", mutate: func(p *Policy) { p.MaxInterval = -time.Second }, wantErr: true},
		{name: "jitter over one", mutate: func(p *Policy) { p.JitterFraction = 1.5 }, wantErr: true},
		{name: "growth", mutate: func(p *Policy) { p.Multiplier = 2; p.MaxInterval = time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackoff_FixedInterval(t *testing.T) {
	t.Parallel()

	b := NewBackoff(DefaultPolicy())
	for i := 0; i < 20; i++ {
		if got := b.Next(); got != DefaultInterval {
			t.Fatalf("Next() #%d = %v, want %v", i, got, DefaultInterval)
		}
	}
	if b.Waits() != 20 {
		t.Errorf("Waits() = %d, want 20", b.Waits())
	}
}

func TestBackoff_GrowthCapped(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Interval = time.Second
	p.Multiplier = 2
	p.MaxInterval = 5 * time.Second

	b := NewBackoff(p)
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset() = %v, want 1s", got)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.JitterFraction = 0.2

	tests := []struct {
		random float64
		want   time.Duration
	}{
		{random: 0, want: 4 * time.Second},
		{random: 0.5, want: 5 * time.Second},
		{random: 0.75, want: 5500 * time.Millisecond},
	}

	for _, tt := range tests {
		b := NewBackoff(p)
		b.random = func() float64 { return tt.random }
		if got := b.Next(); got != tt.want {
			t.Errorf("Next() with random %v = %v, want %v", tt.random, got, tt.want)
		}
	}
}
