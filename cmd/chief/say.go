package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/conversation"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

var (
	sayFrom  string
	sayID    string
	sayMedia []string
)

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Send one message through the pipeline",
	Long: `Send one message as if it arrived by SMS and print the reply.

Examples:
  chief say --from +15551234567 "expense 84.12 nails from home depot for deck"
  chief say --from +15551234567 yes
  chief say --from +15551234567 --id SM42 "expense 20 screws for deck"   # replay a message id`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		reply, err := send(ctx, a.engine, sayFrom, sayID, strings.Join(args, " "), sayMedia)
		if err != nil {
			return err
		}
		if reply != "" {
			fmt.Println(reply)
		}
		return nil
	},
}

func init() {
	sayCmd.Flags().StringVar(&sayFrom, "from", "local", "Sender identity (phone number)")
	sayCmd.Flags().StringVar(&sayID, "id", "", "Message id (default: a new UUID)")
	sayCmd.Flags().StringSliceVar(&sayMedia, "media", nil, "Attached media URL (repeatable)")
}

// send runs one message through the engine and returns the reply text. An
// empty id gets a fresh UUID so every call is a new delivery.
func send(ctx context.Context, e *conversation.Engine, from, id, text string, media []string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	msg := conversation.Message{From: from, Text: text, ID: id}
	for _, u := range media {
		msg.Media = append(msg.Media, types.Media{URL: u})
	}
	reply, err := e.Handle(ctx, msg)
	if err != nil {
		return "", err
	}
	if reply == nil {
		return "", nil
	}
	return reply.Text, nil
}
