// Package cli implements firehose-emit, a producer-side command line tool
// for sending messages to a relay and minting subscriber tokens.
package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/funkyfirehose/relay/internal/crypto"
)

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "firehose-emit",
		Short:        "Send messages to a firehose relay",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")
	root.PersistentFlags().String("url", "", "relay base URL (FIREHOSE_URL)")
	root.PersistentFlags().String("username", "", "producer username (FIREHOSE_USERNAME)")
	root.PersistentFlags().String("password", "", "producer password (FIREHOSE_PASSWORD)")
	root.PersistentFlags().String("key", "", "base64 pre-shared AES-256 key (FIREHOSE_KEY)")
	root.PersistentFlags().Bool("open", false, "post plain JSON to a relay in open ingestion mode (FIREHOSE_OPEN)")

	root.AddCommand(sendCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))
	root.AddCommand(keygenCmd())
	return root
}

func sendCmd(cfgPath *string) *cobra.Command {
	var topic string
	var file string

	cmd := &cobra.Command{
		Use:   "send [json]",
		Short: "Send one JSON message (argument, --file, or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			client, err := NewClient(cfg)
			if err != nil {
				return err
			}

			payload, err := readPayload(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.Send(ctx, payload, topic); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "topic label attached as X-Topic")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the message from this file")
	return cmd
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var subscriber string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a subscriber token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			// Tokens never need the key.
			cfg.Open = true
			client, err := NewClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tr, err := client.RequestToken(ctx, subscriber)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token=%s expires_at=%s\n", tr.Token, tr.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subscriber, "subscriber", "", "subscriber name (generated when empty)")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh base64 pre-shared key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, crypto.KeySize)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}

func readPayload(stdin io.Reader, args []string, file string) ([]byte, error) {
	switch {
	case len(args) == 1 && file != "":
		return nil, fmt.Errorf("pass the message as an argument or with --file, not both")
	case len(args) == 1:
		return []byte(args[0]), nil
	case file != "":
		return os.ReadFile(file)
	default:
		return io.ReadAll(io.LimitReader(stdin, 1<<20))
	}
}
