package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/botvisor/internal/auth"
	"github.com/loykin/botvisor/pkg/client"
	"github.com/spf13/cobra"
)

// Login exchanges --user/--password (or a client id and secret) for a
// token and prints it.
func (c command) Login(ctx context.Context, f LoginFlags) error {
	req := client.LoginRequest{Method: string(auth.AuthMethodBasic), Username: c.flags.User, Password: c.flags.Password}
	if f.ClientID != "" {
		req = client.LoginRequest{Method: string(auth.AuthMethodClientSecret), ClientID: f.ClientID, ClientSecret: f.ClientSecret}
	} else if req.Username == "" {
		return errors.New("login needs --user or --client-id")
	}
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Login(ctx, req)
	if err != nil {
		return err
	}
	if res.Token == nil {
		return errors.New("daemon returned no token")
	}
	_, _ = fmt.Fprintln(c.out, res.Token.Value)
	return nil
}

func createLoginCommand(botCommand command, loginFlags *LoginFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an API token from a daemon with auth enabled",
		Long: `Print a bearer token for later commands.

Examples:
  export BOTVISOR_TOKEN=$(botvisor login --user=ops --password=secret)
  botvisor login --client-id=deployer --client-secret=...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return botCommand.Login(cmd.Context(), *loginFlags)
		},
	}
	cmd.Flags().StringVar(&loginFlags.ClientID, "client-id", "", "client id for client_secret login")
	cmd.Flags().StringVar(&loginFlags.ClientSecret, "client-secret", "", "client secret")
	return cmd
}

// createHashPasswordCommand prints the bcrypt hash for password_hash and
// secret_hash entries. Without an argument the password is read from in.
func createHashPasswordCommand(in io.Reader, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash of a password for the auth config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(in).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, hash)
			return err
		},
	}
}
