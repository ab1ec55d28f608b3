package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/botvisor/pkg/client"
	"github.com/spf13/cobra"
)

// command binds the bot subcommands to a daemon client.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c command) client() *client.Client {
	return client.New(client.Config{
		BaseURL:  c.flags.APIUrl,
		Timeout:  c.flags.APITimeout,
		Insecure: c.flags.Insecure,
		Token:    c.flags.Token,
		Username: c.flags.User,
		Password: c.flags.Password,
	})
}

// connect returns a client for a daemon that answers, or a hint to start one.
func (c command) connect(ctx context.Context) (*client.Client, error) {
	cl := c.client()
	if !cl.IsReachable(ctx) {
		return nil, errors.New("daemon not reachable - please start it first with 'botvisor serve'")
	}
	return cl, nil
}

func (c command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(c.out, string(b))
}

// List prints every bot with its run state.
func (c command) List(ctx context.Context, f ListFlags) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	bots, err := cl.List(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		c.printJSON(bots)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tSTATE\tPID\tUPTIME\tCOMMAND")
	for _, b := range bots {
		state, pid, uptime := "stopped", "-", "-"
		if b.Running {
			state, pid = "running", fmt.Sprint(b.PID)
			if b.StartedAt != nil {
				uptime = time.Since(*b.StartedAt).Truncate(time.Second).String()
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", b.Name, b.Type, state, pid, uptime, b.StartCommand)
	}
	return tw.Flush()
}

// Add registers a bot definition.
func (c command) Add(ctx context.Context, f AddFlags) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	b, err := cl.Add(ctx, client.Bot{Name: f.Name, Type: f.Type, Path: f.Path, StartCommand: f.Command})
	if err != nil {
		return err
	}
	c.printJSON(b)
	return nil
}

// Remove deletes a bot, stopping it first if needed.
func (c command) Remove(ctx context.Context, name string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := cl.Remove(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "removed %s\n", name)
	return nil
}

func (c command) Start(ctx context.Context, name string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := cl.Start(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "started %s\n", name)
	return nil
}

func (c command) Stop(ctx context.Context, name string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "stopped %s\n", name)
	return nil
}

// Logs writes the tail of a bot's log as stored, records included.
func (c command) Logs(ctx context.Context, name string, f LogsFlags) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	logs, err := cl.Logs(ctx, name, f.Bytes)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.out, logs)
	return err
}

func createListCommand(botCommand command, listFlags *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		Short:   "List bots and whether they are running",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.List(cmd.Context(), *listFlags)
		},
	}
	cmd.Flags().BoolVar(&listFlags.JSON, "json", false, "print the raw JSON list")
	return cmd
}

func createAddCommand(botCommand command, addFlags *AddFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new bot",
		Long: `Register a bot definition with the daemon. The command runs through the
shell with the bot's path as working directory.

Examples:
  botvisor add --name=echo --path=/srv/echo --command="node index.js"
  botvisor add --name=scraper --type=python --path=./scraper --command="python main.py"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.Add(cmd.Context(), *addFlags)
		},
	}
	cmd.Flags().StringVar(&addFlags.Name, "name", "", "bot name (required)")
	cmd.Flags().StringVar(&addFlags.Type, "type", "", "free-form category (default custom)")
	cmd.Flags().StringVar(&addFlags.Path, "path", "", "working directory (required)")
	cmd.Flags().StringVar(&addFlags.Command, "command", "", "shell command line (required)")
	for _, f := range []string{"name", "path", "command"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createRemoveCommand(botCommand command) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Stop (if running) and delete a bot; its log is kept",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.Remove(cmd.Context(), args[0])
		},
	}
}

func createStartCommand(botCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a registered bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.Start(cmd.Context(), args[0])
		},
	}
}

func createStopCommand(botCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Send the termination signal to a running bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.Stop(cmd.Context(), args[0])
		},
	}
}

func createLogsCommand(botCommand command, logsFlags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Print the tail of a bot's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.Logs(cmd.Context(), args[0], *logsFlags)
		},
	}
	cmd.Flags().IntVar(&logsFlags.Bytes, "bytes", 0, "bytes to read from the end (default: daemon setting)")
	return cmd
}
