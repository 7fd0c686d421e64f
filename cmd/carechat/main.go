package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "carechat",
	Short: "Terminal client for the carechat healthcare assistant",
	Long: `carechat connects to a carechat server, streams assistant replies in
real time over a per-conversation duplex channel, and keeps the local
transcript reconciled with the durable message store.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", viper.GetString("log-level"), err)
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8000", "base URL of the carechat API server")
	rootCmd.PersistentFlags().String("ws-url", "", "websocket base URL (defaults to the server URL with a ws scheme)")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the API and the streaming channel")
	rootCmd.PersistentFlags().String("transcript-db", "", "path of the sqlite transcript cache (empty keeps the cache in memory)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("CARECHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newConversationsCommand())
}

// wsEndpoint derives the websocket base URL from the configured server URL
// unless one was given explicitly.
func wsEndpoint() string {
	if ws := viper.GetString("ws-url"); ws != "" {
		return ws
	}
	server := viper.GetString("server")
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
