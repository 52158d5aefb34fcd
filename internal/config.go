package internal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	SupabaseURL       string        `env:"SUPABASE_URL,required=true" validate:"required,url"`
	SupabaseAnonKey   string        `env:"SUPABASE_ANON_KEY,required=true" validate:"required"`
	AuthProvider      string        `env:"AUTH_PROVIDER,default=google" validate:"required"`
	AuthCallbackURL   string        `env:"AUTH_CALLBACK_URL,default=http://127.0.0.1:8765/auth/callback" validate:"required,url"`
	ChannelName       string        `env:"CHANNEL_NAME,default=room_one" validate:"required"`
	BroadcastAck      bool          `env:"BROADCAST_ACK,default=false"`
	PushTimeout       time.Duration `env:"PUSH_TIMEOUT,default=10s" validate:"gt=0"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=25s" validate:"gt=0"`
	EventBufferSize   int           `env:"EVENT_BUFFER_SIZE,default=256" validate:"min=1"`
	SessionFilepath   string        `env:"SESSION_FILEPATH,default=.roomchat/session" validate:"required"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,default=5s" validate:"gt=0"`
	LowCapacity       int           `env:"LOW_CAPACITY_THRESHOLD,default=10" validate:"min=0"`
	SearchLimit       int           `env:"SEARCH_LIMIT,default=10" validate:"min=1,max=100"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`
	EnableModeration  bool          `env:"ENABLE_MODERATION,default=true"`
	ScreenWidth       int           `env:"SCREEN_WIDTH,default=80" validate:"min=20"`
	Colours           bool          `env:"COLOURS,default=true"`
	DebugPort         int           `env:"DEBUG_PORT,default=0" validate:"min=0,max=65535"`
	LogLevel          string        `env:"LOG_LEVEL,required=true" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	_, err := CharacterRune(c.CharReplacement)
	return err
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
