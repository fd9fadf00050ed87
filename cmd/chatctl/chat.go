package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/client"
)

func printMessages(g *globals, msgs []api.Message) {
	if g.json {
		outputJSON(map[string]any{"messages": msgs})
		return
	}
	for _, m := range msgs {
		mark := ""
		if m.Pending {
			mark = " (sending)"
		}
		fmt.Printf("%s  %-12s %s%s\n", formatMillis(m.Timestamp), m.SenderID, m.Content, mark)
	}
}

func conversationsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List cached conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				convs, err := c.Conversations(ctx)
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(map[string]any{"conversations": convs})
					return nil
				}
				if len(convs) == 0 {
					fmt.Println("No conversations.")
					return nil
				}
				for _, cv := range convs {
					name := cv.Name
					if name == "" {
						name = strings.Join(cv.Participants, ", ")
					}
					last := ""
					if cv.LastMessage != nil {
						last = cv.LastMessage.Content
					}
					fmt.Printf("%-24s %-8s %3d unread  %-24s %s\n", cv.ID, cv.Type, cv.UnreadCount, name, last)
				}
				return nil
			})
		},
	}
}

func messagesCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages CONVERSATION",
		Short: "Show cached messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				msgs, err := c.Messages(ctx, args[0], limit)
				if err != nil {
					return err
				}
				printMessages(g, msgs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "show at most this many of the newest messages (0 for all)")
	return cmd
}

func historyCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history CONVERSATION",
		Short: "Fetch an older page of messages from the history API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				more, err := c.LoadHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(map[string]bool{"has_more": more})
				} else if more {
					fmt.Println("Loaded. More history is available.")
				} else {
					fmt.Println("Loaded. Reached the beginning of the conversation.")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "page size (0 for the daemon default)")
	return cmd
}

func sendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send CONVERSATION TEXT...",
		Short: "Send a text message and wait for delivery",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return g.run(func(ctx context.Context, c *client.Client) error {
				id, err := c.Send(ctx, args[0], text)
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(map[string]string{"message_id": id})
				} else {
					fmt.Printf("Delivered as %s\n", id)
				}
				return nil
			})
		},
	}
}

func readCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "read CONVERSATION [MESSAGE]",
		Short: "Mark a conversation (or one message) as read",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msgID string
			if len(args) == 2 {
				msgID = args[1]
			}
			return g.run(func(ctx context.Context, c *client.Client) error {
				return c.MarkRead(ctx, args[0], msgID)
			})
		},
	}
}

func searchCmd(g *globals) *cobra.Command {
	var (
		conversation string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search persisted messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				msgs, err := c.Search(ctx, args[0], conversation, limit)
				if err != nil {
					return err
				}
				if !g.json && len(msgs) == 0 {
					fmt.Println("No matches.")
					return nil
				}
				printMessages(g, msgs)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "restrict to one conversation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (0 for the daemon default)")
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream engine events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = c.Watch(ctx, namespace, func(env api.Envelope) error {
				if g.json {
					outputJSON(env)
					return nil
				}
				fmt.Printf("%s  %-28s %v\n", formatMillis(env.OccurredAtUnixMs), env.Kind, env.Payload)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "only events whose kind starts with this prefix, e.g. message.")
	return cmd
}
