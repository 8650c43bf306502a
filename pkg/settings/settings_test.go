package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// newViper binds a command's flags the way clay.InitViper binds the root command: env prefix
// from the app name, dashes mapped to underscores, an optional yaml config file.
func newViper(t *testing.T, configFile string, args ...string) *viper.Viper {
	t.Helper()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(AppName)
	v.AutomaticEnv()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))
	if configFile != "" {
		v.SetConfigFile(configFile)
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(newViper(t, ""))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8001", s.ServerURL)
	require.Equal(t, 30*time.Second, s.HTTPTimeout)
	require.Equal(t, time.Duration(0), s.TurnTimeout)
	require.Equal(t, "", s.MirrorAddr)
	require.False(t, s.Redis.Enabled)
	require.Equal(t, "localhost:6379", s.Redis.Addr)
}

func TestLoad_FlagsEnvAndConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server-url: http://config:9000\nturn-timeout: 90s\nredis-group: from-config\n"), 0o644))
	t.Setenv("CHATSTREAM_REDIS_ADDR", "redis.internal:6379")

	s, err := Load(newViper(t, path, "--server-url", "http://flag:8001", "--mirror-addr", ":9090"))
	require.NoError(t, err)

	require.Equal(t, "http://flag:8001", s.ServerURL)
	require.Equal(t, 90*time.Second, s.TurnTimeout)
	require.Equal(t, "from-config", s.Redis.Group)
	require.Equal(t, "redis.internal:6379", s.Redis.Addr)
	require.Equal(t, ":9090", s.MirrorAddr)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	_, err := Load(newViper(t, "", "--server-url", "ftp://nowhere"))
	require.Error(t, err)

	_, err = Load(nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())

	bad := s
	bad.ServerURL = "localhost:8001"
	require.Error(t, bad.Validate())

	bad = s
	bad.TurnTimeout = -time.Second
	require.Error(t, bad.Validate())

	bad = s
	bad.HTTPTimeout = -time.Second
	require.Error(t, bad.Validate())

	bad = s
	bad.Redis.Enabled = true
	bad.Redis.Addr = ""
	require.Error(t, bad.Validate())
}
