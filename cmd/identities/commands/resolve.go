package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/models"
)

// NewResolveCmd creates the resolve command
func NewResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Resolve an identifier to a canonical user",
		Long:  "Resolve a user id, provider id, email or phone number to the canonical user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			user, err := e.resolver.Resolve(context.Background(), args[0])
			if errors.Is(err, identity.ErrNotFound) {
				fmt.Printf("No user matches %q\n", args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolution failed: %w", err)
			}

			printUser(user)
			return nil
		},
	}
}

func printUser(user *models.CanonicalUser) {
	fmt.Printf("User: %s\n", user.ID)
	if user.FullName != nil {
		fmt.Printf("  Name: %s\n", *user.FullName)
	}
	if user.Email != nil {
		fmt.Printf("  Email: %s\n", *user.Email)
	}
	if user.Phone != nil {
		fmt.Printf("  Phone: %s\n", *user.Phone)
	}
	fmt.Printf("  Primary provider: %s\n", user.PrimaryAuthProvider)
	fmt.Printf("  Logins: %d\n", user.LoginCount)
	if user.LastLogin != nil {
		fmt.Printf("  Last login: %s\n", user.LastLogin.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  Admin: %v  Premium: %v\n", user.IsAdmin, user.IsPremium)
}
