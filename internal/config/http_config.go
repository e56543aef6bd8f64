package config

import "time"

type HTTPConfig interface {
	GetHTTPTimeout() time.Duration
	GetStatusListRetries() uint64
}

type HTTP struct{}

var _ HTTPConfig = HTTP{}

func (HTTP) GetHTTPTimeout() time.Duration {
	return 30 * time.Second
}

func (HTTP) GetStatusListRetries() uint64 {
	return 2
}
