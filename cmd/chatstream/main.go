package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatstream/cmd/chatstream/cmds"
	"github.com/go-go-golems/chatstream/pkg/settings"
)

func newRootCommand() (*cobra.Command, error) {
	rt := &cmds.Runtime{}

	rootCmd := &cobra.Command{
		Use:          settings.AppName,
		Short:        "chatstream is a terminal client for a streaming chat server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// reinitialize the logger now that --log-level and co have been parsed
			if err := clay.InitLogger(); err != nil {
				return err
			}
			s, err := settings.Load(viper.GetViper())
			if err != nil {
				return err
			}
			rt.Settings = s
			log.Debug().Str("server_url", s.ServerURL).Bool("redis", s.Redis.Enabled).Msg("settings loaded")
			return nil
		},
	}
	settings.AddFlags(rootCmd)

	if err := clay.InitViper(settings.AppName, rootCmd); err != nil {
		return nil, err
	}
	if err := clay.InitLogger(); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(
		cmds.NewChatCommand(rt),
		cmds.NewTUICommand(rt),
	)
	glazeCommands, err := cmds.NewGlazeCommands(rt)
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(glazeCommands...)
	return rootCmd, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := newRootCommand()
	cobra.CheckErr(err)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
