package config

import (
	"os"
)

const (
	appNameVar = "APP_NAME"
	envVar     = "ENV"
)

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Wallet Refresh")
}

func (EnvVars) GetEnv() string {
	return GetEnv(envVar, "development")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
