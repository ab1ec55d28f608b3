package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	Token      string
	User       string
	Password   string
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	botCommand := command{flags: globalFlags, out: os.Stdout}

	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(botCommand, &ListFlags{}),
		createAddCommand(botCommand, &AddFlags{}),
		createRemoveCommand(botCommand),
		createStartCommand(botCommand),
		createStopCommand(botCommand),
		createLogsCommand(botCommand, &LogsFlags{}),
		createLoginCommand(botCommand, &LoginFlags{}),
		createHashPasswordCommand(os.Stdin, os.Stdout),
	)
	return root
}

// createRootCommand creates the root command with its persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "botvisor",
		Short: "Bot process supervisor",
		Long: `Botvisor keeps a registry of bot definitions, starts and stops them on
request and records everything they print.

Examples:
  botvisor serve botvisor.toml      # Start the daemon
  botvisor add --name=echo --path=/srv/echo --command="node index.js"
  botvisor start echo
  botvisor logs echo --bytes=4096
  botvisor list --api-url=http://remote:3000/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://localhost:3000/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	root.PersistentFlags().StringVar(&flags.Token, "token", os.Getenv("BOTVISOR_TOKEN"), "bearer token (env BOTVISOR_TOKEN)")
	root.PersistentFlags().StringVar(&flags.User, "user", "", "username for HTTP Basic auth")
	root.PersistentFlags().StringVar(&flags.Password, "password", os.Getenv("BOTVISOR_PASSWORD"), "password for HTTP Basic auth (env BOTVISOR_PASSWORD)")

	return root
}
