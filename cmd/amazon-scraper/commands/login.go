package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// LoginAction opens a browser window on the sign-in page and saves the
// session cookies once the account is signed in.
func LoginAction(ctx context.Context, cmd *cli.Command) error {
	ac, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer ac.Close()

	fmt.Printf("Sign in within %s in the browser window that opens.\n", ac.Config.Browser.LoginTimeout)
	if err := ac.Provider.Login(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Printf("Cookies saved to %s\n", ac.Config.Browser.CookiesFile)
	return nil
}
