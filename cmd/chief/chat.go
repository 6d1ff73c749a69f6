package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/ui"
)

var chatFrom string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the pipeline interactively",
	Long: `Read messages from stdin, one per line, and print each reply. Every line is
a new delivery from the same sender, so multi-step conversations (picking a
job, confirming with yes) work as they would over SMS. Type exit to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, logger)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		interactive := ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout)
		if interactive {
			fmt.Println(ui.RenderMuted(fmt.Sprintf("Chatting as %s. Type help for examples, exit to quit.", chatFrom)))
		}

		scanner := bufio.NewScanner(os.Stdin)
		for {
			if interactive {
				fmt.Print(ui.RenderAccent("> "))
			}
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return nil
			}

			reply, err := send(ctx, a.engine, chatFrom, "", line, nil)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				fmt.Fprintln(os.Stderr, ui.RenderFail("error: "+err.Error()))
			case reply == "":
			case interactive:
				fmt.Println(ui.RenderReply(reply))
			default:
				fmt.Println(reply)
			}
		}
		return scanner.Err()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatFrom, "from", "local", "Sender identity (phone number)")
}
