package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/validation"
)

// NewUnlinkCmd creates the unlink command
func NewUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <identifier> <provider>",
		Short: "Remove a user's identity for a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateProvider(args[1]); err != nil {
				return err
			}

			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := context.Background()
			user, err := e.resolver.Resolve(ctx, args[0])
			if errors.Is(err, identity.ErrNotFound) {
				return fmt.Errorf("no user matches %q", args[0])
			}
			if err != nil {
				return fmt.Errorf("resolution failed: %w", err)
			}

			err = e.consolidation.UnlinkIdentity(ctx, user.ID, args[1])
			switch {
			case err == nil:
				fmt.Printf("Unlinked %s from user %s\n", args[1], user.ID)
				return nil
			case errors.Is(err, identity.ErrLastIdentity):
				return fmt.Errorf("refusing to unlink the last identity of user %s", user.ID)
			case errors.Is(err, identity.ErrNotFound):
				return fmt.Errorf("user %s has no %s identity", user.ID, args[1])
			default:
				return fmt.Errorf("unlink failed: %w", err)
			}
		},
	}
}
