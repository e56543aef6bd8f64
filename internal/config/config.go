package config

type Config interface {
	EnvConfig
	RefreshConfig
	HTTPConfig
}

type mainConfig struct {
	EnvVars
	Refresh
	HTTP
}

func New() Config {
	return mainConfig{}
}
