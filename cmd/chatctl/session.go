package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/status"
)

func printStatus(g *globals, st api.StatusResponse) {
	if g.json {
		outputJSON(st)
		return
	}
	fmt.Printf("Profile:  %s\n", st.Profile)
	fmt.Printf("State:    %s\n", st.State)
	if st.UserID != "" {
		fmt.Printf("User:     %s\n", st.UserID)
	}
	fmt.Printf("Pending:  %d\n", st.PendingSends)
	idle := "idle close off"
	if st.Activity.IdleClose {
		idle = "idle after " + st.Activity.IdleTimeout
	}
	fmt.Printf("Activity: %s (foreground=%v, screen=%q, %s)\n",
		st.Activity.State, st.Activity.Foreground, st.Activity.Screen, idle)
}

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(g, st)
				return nil
			})
		},
	}
}

func connectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect and authenticate, waiting for the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				st, err := c.Connect(ctx)
				if err != nil {
					return err
				}
				printStatus(g, st)
				return nil
			})
		},
	}
}

func disconnectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Close the connection and stop reconnecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				st, err := c.Disconnect(ctx)
				if err != nil {
					return err
				}
				printStatus(g, st)
				return nil
			})
		},
	}
}

func tokenCmd(g *globals) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "token [TOKEN]",
		Short: "Replace the access token, or reload it from the profile's token source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			switch {
			case fromStdin:
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read token: %w", err)
				}
				if token = strings.TrimSpace(line); token == "" {
					return errors.New("empty token on stdin")
				}
			case len(args) == 1:
				token = args[0]
			}
			return g.run(func(ctx context.Context, c *client.Client) error {
				changed, err := c.SetToken(ctx, token)
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(map[string]bool{"changed": changed})
				} else if changed {
					fmt.Println("Token updated.")
				} else {
					fmt.Println("Token unchanged.")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the token from standard input")
	return cmd
}

func activityCmd(g *globals) *cobra.Command {
	var (
		background   bool
		foreground   bool
		screen       string
		conversation string
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Report UI activity to the idle monitor (a bare call is a pulse)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := client.Activity{Pulse: true}
			switch {
			case background && foreground:
				return errors.New("--background and --foreground are exclusive")
			case background:
				fg := false
				a.Foreground = &fg
			case foreground:
				fg := true
				a.Foreground = &fg
			}
			if cmd.Flags().Changed("screen") {
				a.Screen = &screen
			}
			if cmd.Flags().Changed("conversation") {
				a.ActiveConversation = &conversation
			}
			return g.run(func(ctx context.Context, c *client.Client) error {
				st, err := c.ReportActivity(ctx, a)
				if err != nil {
					return err
				}
				printStatus(g, st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "report the app as backgrounded")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "report the app as foregrounded")
	cmd.Flags().StringVar(&screen, "screen", "", `focused screen: "list", "conversation" or "" to blur`)
	cmd.Flags().StringVar(&conversation, "conversation", "", `conversation on screen ("" for the list)`)
	return cmd
}

func healthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the daemon's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				for _, svc := range []string{"", status.HealthService} {
					resp, err := c.Check(ctx, svc)
					if err != nil {
						return err
					}
					name := svc
					if name == "" {
						name = "chatsyncd"
					}
					if g.json {
						b, err := protojson.Marshal(resp)
						if err != nil {
							return err
						}
						fmt.Printf("{\"service\":%q,\"response\":%s}\n", name, b)
						continue
					}
					fmt.Printf("%-22s %s\n", name, resp.Status)
				}
				return nil
			})
		},
	}
}
