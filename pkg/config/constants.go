package config

const (
	EnvPrefix    = "INFGOV"
	ConfigEnvVar = "INFGOV_CONFIG"
	APIKeyEnvVar = "OPENAI_API_KEY"
)
