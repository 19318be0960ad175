package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/atelierhub/identity-core/internal/identity"
)

// NewSetPrimaryCmd creates the set-primary command
func NewSetPrimaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-primary <identifier> <identity-id>",
		Short: "Mark one of a user's identities as primary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid identity id %q", args[1])
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

			if err := e.consolidation.SetPrimaryIdentity(ctx, user.ID, identityID); err != nil {
				if errors.Is(err, identity.ErrNotFound) {
					return fmt.Errorf("identity %s does not belong to user %s", identityID, user.ID)
				}
				return fmt.Errorf("set-primary failed: %w", err)
			}

			fmt.Printf("Identity %s is now primary for user %s\n", identityID, user.ID)
			return nil
		},
	}
}
