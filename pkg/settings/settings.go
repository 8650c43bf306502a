// Package settings declares the application flags and decodes them, together with the
// environment and config file that clay binds into viper, into the runtime configuration.
package settings

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatstream/pkg/redisstream"
)

const AppName = "chatstream"

// Settings is the resolved configuration shared by all commands. Logging keys are owned by
// clay and are not part of it.
type Settings struct {
	ServerURL   string        `mapstructure:"server-url" yaml:"server-url"`
	TurnTimeout time.Duration `mapstructure:"turn-timeout" yaml:"turn-timeout"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout" yaml:"http-timeout"`
	MirrorAddr  string        `mapstructure:"mirror-addr" yaml:"mirror-addr"`

	Redis redisstream.Settings `mapstructure:",squash" yaml:",inline"`
}

func Defaults() Settings {
	return Settings{
		ServerURL:   "http://localhost:8001",
		TurnTimeout: 0,
		HTTPTimeout: 30 * time.Second,
		Redis:       redisstream.DefaultSettings(),
	}
}

// AddFlags registers the application's persistent flags. Call it before clay.InitViper so
// the flags get bound.
func AddFlags(cmd *cobra.Command) {
	d := Defaults()
	f := cmd.PersistentFlags()
	f.String("server-url", d.ServerURL, "Base URL of the chat server")
	f.Duration("turn-timeout", d.TurnTimeout, "Abandon a turn after this long (0 disables)")
	f.Duration("http-timeout", d.HTTPTimeout, "Timeout for non-streaming requests")
	f.String("mirror-addr", d.MirrorAddr, "Serve a live websocket mirror of the conversation on this address")

	f.Bool("redis-enabled", d.Redis.Enabled, "Carry conversation updates over Redis Streams")
	f.String("redis-addr", d.Redis.Addr, "Redis address")
	f.String("redis-group", d.Redis.Group, "Redis consumer group")
	f.String("redis-consumer", d.Redis.Consumer, "Redis consumer name")
}

// Load decodes and validates the application keys held by v.
func Load(v *viper.Viper) (Settings, error) {
	if v == nil {
		return Settings{}, errors.New("settings: nil viper")
	}
	s := Defaults()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	u, err := url.Parse(strings.TrimSpace(s.ServerURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("server-url %q must be an absolute http(s) url", s.ServerURL)
	}
	if s.TurnTimeout < 0 {
		return errors.Errorf("turn-timeout cannot be negative: %s", s.TurnTimeout)
	}
	if s.HTTPTimeout < 0 {
		return errors.Errorf("http-timeout cannot be negative: %s", s.HTTPTimeout)
	}
	return s.Redis.Validate()
}
