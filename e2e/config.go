package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SupabaseURL string `envconfig:"E2E_SUPABASE_URL"`
	AnonKey     string `envconfig:"E2E_SUPABASE_ANON_KEY"`
	// E2E_ACCESS_TOKEN is a valid user JWT for the project, obtained out of band
	AccessToken string `envconfig:"E2E_ACCESS_TOKEN"`
	ChannelName string `envconfig:"E2E_CHANNEL_NAME" default:"room_e2e"`
	// E2E_DEBUG_JSON dumps every received broadcast payload
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

// Enabled reports whether a backend was configured. Without one the suite is skipped.
func (c Config) Enabled() bool {
	return c.SupabaseURL != "" && c.AnonKey != "" && c.AccessToken != ""
}
