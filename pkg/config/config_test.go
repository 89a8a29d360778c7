package config

import (
	"strings"
	"testing"
	"time"

	"github.com/statwerk/istat-client/pkg/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.MinDelay != 13*time.Second {
		t.Errorf("MinDelay = %v, want 13s", cfg.MinDelay)
	}
	if cfg.BanThreshold != 3 {
		t.Errorf("BanThreshold = %d, want 3", cfg.BanThreshold)
	}
	if cfg.MaxBackoff != 300*time.Second {
		t.Errorf("MaxBackoff = %v, want 300s", cfg.MaxBackoff)
	}
	if cfg.BaseTTLDays != 14 || cfg.TTLJitterDays != 7 {
		t.Errorf("TTL = %d/%d, want 14/7", cfg.BaseTTLDays, cfg.TTLJitterDays)
	}
	if cfg.ParsedDialect() != protocol.DialectV1 {
		t.Errorf("ParsedDialect() = %v, want %v", cfg.ParsedDialect(), protocol.DialectV1)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty base URL",
			mutate:  func(c *Config) { c.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "unknown dialect",
			mutate:  func(c *Config) { c.Dialect = "sdmx99" },
			wantErr: "dialect",
		},
		{
			name:    "zero min delay",
			mutate:  func(c *Config) { c.MinDelay = 0 },
			wantErr: "min_delay",
		},
		{
			name:    "jitter fraction out of range",
			mutate:  func(c *Config) { c.JitterFraction = 1.0 },
			wantErr: "jitter_fraction",
		},
		{
			name:    "zero ban threshold",
			mutate:  func(c *Config) { c.BanThreshold = 0 },
			wantErr: "ban_threshold",
		},
		{
			name:    "zero max retries",
			mutate:  func(c *Config) { c.MaxRetries = 0 },
			wantErr: "max_retries",
		},
		{
			name:    "shrinking backoff",
			mutate:  func(c *Config) { c.BackoffMultiplier = 0.5 },
			wantErr: "backoff_multiplier",
		},
		{
			name:    "max backoff below initial",
			mutate:  func(c *Config) { c.MaxBackoff = 30 * time.Second },
			wantErr: "max_backoff",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.BaseTTLDays = 0 },
			wantErr: "base_ttl_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedSlices(t *testing.T) {
	cfg := Default()

	rl := cfg.RateLimit()
	if rl.MinDelay != cfg.MinDelay || rl.BanThreshold != cfg.BanThreshold {
		t.Errorf("RateLimit() = %+v, want values from %+v", rl, cfg)
	}

	tr := cfg.Transport()
	if tr.MaxRetries != cfg.MaxRetries || tr.MaxBackoff != cfg.MaxBackoff {
		t.Errorf("Transport() = %+v, want values from %+v", tr, cfg)
	}

	ca := cfg.Cache()
	if ca.BaseTTLDays != 14 || ca.JitterWindowDays != 7 {
		t.Errorf("Cache() = %+v, want 14/7", ca)
	}

	b := cfg.Builder()
	if b.BaseURL != cfg.BaseURL || b.Agency != "IT1" {
		t.Errorf("Builder() = %+v, want values from %+v", b, cfg)
	}
}
