package commands

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/atelierhub/identity-core/internal/config"
	"github.com/atelierhub/identity-core/internal/database"
	"github.com/atelierhub/identity-core/internal/events"
	"github.com/atelierhub/identity-core/internal/identity"
)

// env bundles everything a command needs against the live database. The CLI
// runs uncached and without event publishing so its view is always the
// store's.
type env struct {
	db            *database.DB
	resolver      *identity.Resolver
	consolidation *identity.ConsolidationService
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	zapLogger := zap.NewNop()
	guard := database.NewSchemaGuard(db, zapLogger)
	userRepo := database.NewUserRepository(db, guard)
	identityRepo := database.NewIdentityRepository(db, guard)

	resolver := identity.NewResolver(userRepo, identityRepo, nil, cfg.DefaultCountryCode, zapLogger)
	consolidation := identity.NewConsolidationService(userRepo, identityRepo, resolver, nil, events.NopPublisher{}, cfg.DefaultCountryCode, zapLogger)

	return &env{db: db, resolver: resolver, consolidation: consolidation}, nil
}

func (e *env) close() {
	if err := e.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
}
