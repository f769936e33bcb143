package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pairmeet/pairmeet/internal/rooms"
	"github.com/pairmeet/pairmeet/internal/session"
	"github.com/pairmeet/pairmeet/internal/webrtcpeer"
)

var joinCmd = &cobra.Command{
	Use:     "join [room-key]",
	Aliases: []string{"j"},
	Short:   "Join a room and wait for the other participant",
	Long: `Join a room on the relay. With no argument a fresh room key is
generated and printed so it can be shared with the other participant.

Examples:
  pairmeet join
  pairmeet join ABC123
  pairmeet join --server wss://relay.example.com/ws ABC123`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = rooms.NormalizeKey(args[0])
			if key == "" {
				return fmt.Errorf("room key must not be empty")
			}
		} else {
			generated, err := rooms.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate room key: %w", err)
			}
			key = generated
			fmt.Printf("Room key: %s\n", key)
		}
		return runSession(cmd.Context(), key)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runSession(parent context.Context, roomKey string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := session.Dial(ctx, viper.GetString("server"))
	if err != nil {
		return err
	}

	api, err := webrtcpeer.NewAPI(logger, nil, nil)
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}
	factory := webrtcpeer.NewFactory(api, webrtcpeer.Config{ICEServers: iceServers()}, logger)

	orch := session.New(logger, transport, factory)
	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	fmt.Printf("Joining room %s...\n", roomKey)
	orch.Join(roomKey)

	for {
		select {
		case <-ctx.Done():
			orch.Disconnect()
			<-runErr
			fmt.Println("Left the room.")
			return nil
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("relay connection lost: %w", err)
			}
			return nil
		case u := <-orch.Updates():
			switch u.State {
			case session.StateConnecting:
				fmt.Println("Waiting for the other participant...")
			case session.StateConnected:
				fmt.Printf("Connected to peer %s.\n", u.Peer)
			case session.StateDisconnected:
				fmt.Println("The other participant left. Waiting for someone to rejoin is not supported; run join again.")
				orch.Disconnect()
				stop()
			case session.StateError:
				orch.Disconnect()
				return u.Err
			}
		}
	}
}
