package config

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/dutchauction/core"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUCTION_ROLE", "bidder")
	t.Setenv("AUCTION_ADDRESS", "curator-1")

	cfg, err := Load()
	assert.NoError(t, err)

	check.Equal(t, "default", cfg.Zone)
	check.Equal(t, 2*time.Second, cfg.RoundTimeout)
	check.Equal(t, time.Duration(0), cfg.AggregatorTimeout)
	check.Equal(t, 4, cfg.MaxConcurrentAuctions)
	check.Equal(t, "json", cfg.LogFormat)
	check.Equal(t, core.StrategyPassive, cfg.BidderStrategy())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUCTION_ROLE", "coordinator")
	t.Setenv("AUCTION_ADDRESS", "coordinator-a")
	t.Setenv("AUCTION_ZONE", "a")
	t.Setenv("AUCTION_STRATEGY", "aggressive")
	t.Setenv("AUCTION_ROUND_TIMEOUT", "500ms")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	assert.NoError(t, err)

	check.Equal(t, "a", cfg.Zone)
	check.Equal(t, 500*time.Millisecond, cfg.RoundTimeout)
	check.Equal(t, core.StrategyAggressive, cfg.BidderStrategy())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing role", env: map[string]string{"AUCTION_ADDRESS": "x"}},
		{name: "unknown role", env: map[string]string{"AUCTION_ROLE": "auctioneer", "AUCTION_ADDRESS": "x"}},
		{name: "unknown strategy", env: map[string]string{"AUCTION_ROLE": "bidder", "AUCTION_ADDRESS": "x", "AUCTION_STRATEGY": "reckless"}},
		{name: "zero timeout", env: map[string]string{"AUCTION_ROLE": "bidder", "AUCTION_ADDRESS": "x", "AUCTION_ROUND_TIMEOUT": "0s"}},
		{name: "negative aggregator timeout", env: map[string]string{"AUCTION_ROLE": "aggregator", "AUCTION_ADDRESS": "x", "AUCTION_AGGREGATOR_TIMEOUT": "-1s"}},
		{name: "bad duration", env: map[string]string{"AUCTION_ROLE": "bidder", "AUCTION_ADDRESS": "x", "AUCTION_ROUND_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUCTION_ROLE", "")
			t.Setenv("AUCTION_ADDRESS", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			check.Error(t, err)
		})
	}
}
