package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelierhub/identity-core/internal/identity"
	"github.com/atelierhub/identity-core/internal/models"
	"github.com/atelierhub/identity-core/internal/validation"
)

// NewLinkCmd creates the link command
func NewLinkCmd() *cobra.Command {
	var verified bool

	cmd := &cobra.Command{
		Use:   "link <identifier> <provider> <provider-id>",
		Short: "Link a provider identity to a user",
		Args:  cobra.ExactArgs(3),
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

			link := &models.IdentityLink{
				Provider:   args[1],
				ProviderID: args[2],
				IsVerified: verified,
			}
			created, err := e.consolidation.LinkIdentity(ctx, user.ID, link)
			if err != nil {
				var conflict *identity.ConflictError
				if errors.As(err, &conflict) {
					return fmt.Errorf("identity %s/%s already belongs to user %s",
						conflict.Provider, conflict.ProviderID, conflict.ExistingUserID)
				}
				return fmt.Errorf("link failed: %w", err)
			}

			fmt.Printf("Linked %s/%s to user %s (identity %s)\n",
				created.Provider, created.ProviderID, user.ID, created.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verified, "verified", false, "Mark the identity as verified")
	return cmd
}
