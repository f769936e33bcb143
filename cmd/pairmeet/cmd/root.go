// Package cmd implements the pairmeet command line client.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "pairmeet",
	Short: "Two-party video meeting client",
	Long: `pairmeet establishes a direct peer media session with one other
participant, using a room key exchanged out of band and a rendezvous relay
for the negotiation handshake.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.pairmeet.yaml)")
	pf.String("server", "ws://127.0.0.1:8080/ws", "relay signaling endpoint")
	pf.String("stun", "stun:stun.l.google.com:19302", "STUN server URI")
	pf.String("turn", "", "TURN server URI")
	pf.String("turn-user", "", "TURN username")
	pf.String("turn-pass", "", "TURN credential")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")

	viper.SetEnvPrefix("PAIRMEET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"server", "stun", "turn", "turn-user", "turn-pass", "log-level"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pairmeet")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config:", err)
			os.Exit(1)
		}
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", viper.GetString("log-level"))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := viper.GetString("stun"); stun != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{stun}})
	}
	if turn := viper.GetString("turn"); turn != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turn},
			Username:   viper.GetString("turn-user"),
			Credential: viper.GetString("turn-pass"),
		})
	}
	return servers
}
