package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mabletask/agent/config"
	"mabletask/agent/database"
	"mabletask/agent/logger"
	"mabletask/agent/models"
	"mabletask/agent/store"
)

type installOptions struct {
	*rootOptions
	OrgID  string
	APIKey string
	Origin string
}

// installationCreator registers installations in the registry.
type installationCreator interface {
	CreateInstallation(ctx context.Context, orgID, rawKey, origin string) (*models.Installation, error)
}

func newInstallCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Manage installations in the registry",
	}
	cmd.AddCommand(newInstallCreateCommand(root))
	return cmd
}

func newInstallCreateCommand(root *rootOptions) *cobra.Command {
	opts := &installOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an installation key for an organization",
		Long: `Register an installation in the PostgreSQL registry. The key is stored as a
bcrypt hash; the bridge authenticates POST /api/pages against it.

Examples:
  agent install create --org org-1 --key s3cret
  agent install create --org org-1 --key s3cret --origin https://shop.example`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstallCreate(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id (required)")
	cmd.Flags().StringVar(&opts.APIKey, "key", "", "raw installation key (required)")
	cmd.Flags().StringVar(&opts.Origin, "origin", "", "allowed page origin")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func runInstallCreate(ctx context.Context, opts *installOptions, out io.Writer) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Development: cfg.Service.Debug})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dbClient, err := database.NewPostgresDB(cfg.Postgres)
	if errors.Is(err, database.ErrRegistryDisabled) {
		return errors.New("installation registry disabled: set postgres.url or DATABASE_URL")
	}
	if err != nil {
		return fmt.Errorf("initialize PostgreSQL: %w", err)
	}
	defer dbClient.Close()

	return createInstallation(ctx, store.NewInstallStore(dbClient.DB), opts, out, log)
}

func createInstallation(ctx context.Context, creator installationCreator, opts *installOptions, out io.Writer, log logger.Logger) error {
	inst, err := creator.CreateInstallation(ctx, opts.OrgID, opts.APIKey, opts.Origin)
	if errors.Is(err, store.ErrInstallationExists) {
		return fmt.Errorf("org %s already has an installation for origin %q", opts.OrgID, opts.Origin)
	}
	if err != nil {
		return fmt.Errorf("create installation: %w", err)
	}

	log.Info("Installation created",
		logger.Int("installation_id", inst.ID),
		logger.String("org_id", inst.OrgID),
		logger.String("allowed_origin", inst.AllowedOrigin),
	)
	_, err = fmt.Fprintf(out, "installation %d created for org %s\n", inst.ID, inst.OrgID)
	return err
}
