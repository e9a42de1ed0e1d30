package config

import "time"

type NetworkConfig struct {
	MaxDepth       int // hard cap for any upline/downline walk
	UplineCacheTTL time.Duration
	InviteBaseURL  string
}

func LoadNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		MaxDepth:       getEnvAsInt("NETWORK_MAX_DEPTH", 15),
		UplineCacheTTL: getEnvAsDuration("NETWORK_UPLINE_CACHE_TTL", 60*time.Second),
		InviteBaseURL:  getEnv("NETWORK_INVITE_BASE_URL", "https://vitawell.ru/ref/"),
	}
}
