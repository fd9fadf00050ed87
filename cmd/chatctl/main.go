package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/profile"
)

// globals holds the root command's persistent flags.
type globals struct {
	profile string
	json    bool
	timeout time.Duration
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Control a running chatsyncd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.profile, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(
		statusCmd(g),
		connectCmd(g),
		disconnectCmd(g),
		tokenCmd(g),
		activityCmd(g),
		healthCmd(g),
		conversationsCmd(g),
		messagesCmd(g),
		historyCmd(g),
		sendCmd(g),
		readCmd(g),
		searchCmd(g),
		watchCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial resolves the profile and returns a client for its daemon.
func (g *globals) dial() (*client.Client, string, error) {
	name := profile.Resolve(g.profile)
	if err := profile.ValidateName(name); err != nil {
		return nil, "", err
	}
	c, err := client.New(profile.SocketPath(name), profile.HealthSocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, name, nil
}

// run dials the daemon and calls fn with a timeout-bound context.
func (g *globals) run(fn func(ctx context.Context, c *client.Client) error) error {
	c, _, err := g.dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
