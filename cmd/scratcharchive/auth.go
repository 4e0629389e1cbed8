package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scratcharchive/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored platform credentials",
	Long: `Manage stored platform credentials.

Credentials resolve through, in order: environment variables
(SCRATCHARCHIVE_USERNAME, SCRATCHARCHIVE_PASSWORD,
SCRATCHARCHIVE_SESSION_ID, SCRATCHARCHIVE_XTOKEN; a .env file works
too), the system keychain, and an encrypted credential file unlocked by
SCRATCHARCHIVE_VAULT_KEY.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and store the session securely",
	Long: `Log in with a username and password, validate the credentials
against the platform, and store the resulting session id and API token
in the first writable credential store. The password itself is never
stored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status [username]",
	Short: "Show which stores hold credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	password, err := auth.PromptPassword("Password: ")
	if err != nil {
		return err
	}

	account, err := a.archive.Login(context.Background(), &auth.Account{
		Username: username,
		Password: password,
	})
	if err != nil {
		return err
	}
	if err := a.authMgr.Save(account); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s; session stored.\n", username)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.authMgr.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed credentials for %s.\n", args[0])
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	username := a.cfg.Scratch.Username
	if len(args) > 0 {
		username = args[0]
	}
	if username == "" {
		fmt.Println("No username configured; pass one or set SCRATCHARCHIVE_USERNAME.")
		return nil
	}

	for _, store := range a.authMgr.Stores() {
		account, err := store.Get(username)
		switch {
		case err == nil:
			fmt.Printf("%-15s credentials for %s (session: %v, token: %v)\n",
				store.Name()+":", username, account.SessionID != "", account.XToken != "")
		default:
			fmt.Printf("%-15s nothing stored\n", store.Name()+":")
		}
	}
	return nil
}
