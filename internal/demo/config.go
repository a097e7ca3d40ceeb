package demo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snowchat/snowchat/internal/config"
)

type Config struct {
	Prefix    string
	Customers int
	Orders    int
	Parts     int
	Days      int
	Seed      int64
}

func DefaultConfig() Config {
	return Config{
		Prefix:    "demo",
		Customers: 200,
		Orders:    5000,
		Parts:     4,
		Days:      365,
		Seed:      time.Now().UTC().UnixNano(),
	}
}

// LoadConfig reads the SNOWCHAT_DEMO_* settings on top of DefaultConfig.
func LoadConfig(lookup config.LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if raw, ok := lookup("SNOWCHAT_DEMO_PREFIX"); ok {
		cfg.Prefix = strings.Trim(strings.TrimSpace(raw), "/")
	}
	for _, setting := range []struct {
		key string
		dst *int
	}{
		{"SNOWCHAT_DEMO_CUSTOMERS", &cfg.Customers},
		{"SNOWCHAT_DEMO_ORDERS", &cfg.Orders},
		{"SNOWCHAT_DEMO_PARTS", &cfg.Parts},
		{"SNOWCHAT_DEMO_DAYS", &cfg.Days},
	} {
		raw, ok := lookup(setting.key)
		if !ok {
			continue
		}
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || value <= 0 {
			return Config{}, &config.Error{Key: setting.key, Reason: fmt.Sprintf("must be a positive integer, got %q", raw)}
		}
		*setting.dst = value
	}
	if raw, ok := lookup("SNOWCHAT_DEMO_SEED"); ok && strings.TrimSpace(raw) != "" {
		seed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, &config.Error{Key: "SNOWCHAT_DEMO_SEED", Reason: err.Error()}
		}
		cfg.Seed = seed
	}

	if cfg.Prefix == "" {
		return Config{}, &config.Error{Key: "SNOWCHAT_DEMO_PREFIX", Reason: "prefix is required"}
	}
	return cfg, nil
}
