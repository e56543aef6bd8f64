package config

import (
	"strconv"
	"time"
)

type RefreshConfig interface {
	GetRefreshInterval() time.Duration
	GetAutoStart() bool
	GetSettleDelay() time.Duration
	GetRecentlyIssuedCap() int
}

type Refresh struct{}

var _ RefreshConfig = Refresh{}

func (Refresh) GetRefreshInterval() time.Duration {
	if v := GetEnv("REFRESH_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 15 * time.Minute
}

func (Refresh) GetAutoStart() bool {
	return GetEnv("REFRESH_AUTO_START", "true") == "true"
}

// GetSettleDelay is the pause between accepting a replacement and deleting the
// superseded credential, so in-flight reads of the old record can drain.
func (Refresh) GetSettleDelay() time.Duration {
	return 2 * time.Second
}

func (Refresh) GetRecentlyIssuedCap() int {
	if v := GetEnv("REFRESH_RECENT_CAP", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 32
}
