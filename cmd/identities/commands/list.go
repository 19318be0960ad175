package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atelierhub/identity-core/internal/identity"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <identifier>",
		Short: "List a user's linked identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := context.Background()
			user, err := e.resolver.Resolve(ctx, args[0])
			if errors.Is(err, identity.ErrNotFound) {
				fmt.Printf("No user matches %q\n", args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolution failed: %w", err)
			}

			identities, err := e.consolidation.ListIdentities(ctx, user.ID)
			if err != nil {
				return fmt.Errorf("failed to list identities: %w", err)
			}

			printUser(user)
			if len(identities) == 0 {
				fmt.Println("  No linked identities")
				return nil
			}
			fmt.Println("  Identities:")
			for _, ident := range identities {
				marker := " "
				if ident.IsPrimary {
					marker = "*"
				}
				fmt.Printf("  %s %s/%s  id=%s verified=%v\n",
					marker, ident.Provider, ident.ProviderID, ident.ID, ident.IsVerified)
			}
			return nil
		},
	}
}
