package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the backend",
	Long: `Sign in with email and password. The session token is stored in
~/.stampclock/auth/token.json and refreshed automatically.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget cached data",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (required)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
	_ = loginCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	auth, err := authFor()
	if err != nil {
		return err
	}

	password := loginPassword
	if password == "" {
		if password, err = readPassword(); err != nil {
			return err
		}
	}

	if err := auth.Login(context.Background(), loginEmail, password); err != nil {
		return err
	}
	owner, _ := auth.OwnerID(context.Background())
	fmt.Printf("Signed in as %s (user %s)\n", loginEmail, owner)
	return nil
}

// readPassword prompts on the terminal without echo, or reads one line from
// a non-terminal stdin.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.tracker.SignOut(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "Not signed in.")
			return nil
		}
		if n := a.queue.Len(ctx); n > 0 {
			fmt.Fprintf(os.Stderr, "Warning: %d queued change(s) stay pending until you sign in again.\n", n)
		}
		if err := a.auth.Logout(); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	})
}
