package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fleetyard/waybot/internal/config"
	"github.com/fleetyard/waybot/internal/delivery"
	"github.com/fleetyard/waybot/internal/transport"
)

func newSendCmd() *cobra.Command {
	var (
		configPath string
		to         string
		message    string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a one-off message through the bridge",
		Long:  "Sends a single text message to a chat without starting the bot. Useful for checking bridge connectivity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, configPath, to, message)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybot.yaml", "path to waybot config file")
	cmd.Flags().StringVar(&to, "to", "", "destination chat id or phone number")
	cmd.Flags().StringVar(&message, "message", "", "message body")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func runSend(cmd *cobra.Command, configPath, to, message string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	apiKey := cfg.Bridge.APIKey
	if apiKey == "" {
		apiKey, err = promptAPIKey(cmd)
		if err != nil {
			return err
		}
	}

	bridge, err := transport.NewBridge(transport.BridgeOpts{
		URL:    cfg.Bridge.URL,
		APIKey: apiKey,
	})
	if err != nil {
		return err
	}
	sender, err := delivery.New(delivery.Opts{Client: bridge})
	if err != nil {
		return err
	}

	if !strings.Contains(to, "@") {
		to += "@c.us"
	}
	if err := sender.Text(cmd.Context(), to, message); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s\n", to)
	return nil
}

// promptAPIKey reads the bridge api key without echoing it. Falls back
// to an error when stdin is not a terminal, so scripts fail loudly
// instead of hanging.
func promptAPIKey(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("bridge api key not configured and stdin is not a terminal")
	}
	fmt.Fprint(cmd.OutOrStdout(), "Bridge API key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(string(key)), nil
}
