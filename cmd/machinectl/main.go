// Command machinectl is the operator CLI for the machine allocator: it
// provisions and resets machines, lists the store, mints access tokens,
// and manages SQLite migrations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/machine-allocator/internal/auth"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/config"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/database"
	"github.com/nerrad567/machine-allocator/internal/machine"
	"github.com/nerrad567/machine-allocator/internal/storage"
	"github.com/nerrad567/machine-allocator/migrations"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "machinectl",
		Short:         "Operate the machine allocator store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath,
		"config file (env "+config.EnvPrefix+"CONFIG)")

	cmd.AddCommand(
		newProvisionCommand(opts),
		newListCommand(opts),
		newResetCommand(opts),
		newTokenCommand(opts),
		newMigrateCommand(opts),
	)
	return cmd
}

// loadConfig honours MACHINEALLOC_CONFIG unless --config was given explicitly.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := o.configPath
	if env := os.Getenv(config.EnvPrefix + "CONFIG"); env != "" && !cmd.Flags().Changed("config") {
		path = env
	}
	cfg, err := config.Load(cmd.Context(), path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// withStore opens the configured store for the duration of fn.
func (o *rootOptions) withStore(cmd *cobra.Command, fn func(*storage.Store) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := storage.Open(cmd.Context(), cfg.Store, false)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // read-mostly CLI session

	return fn(store)
}

func newProvisionCommand(opts *rootOptions) *cobra.Command {
	var (
		location string
		ids      []string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create AVAILABLE machines at a location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(ids) == 0 && count <= 0 {
				return errors.New("provide --id or a positive --count")
			}
			for range count {
				ids = append(ids, uuid.NewString())
			}

			return opts.withStore(cmd, func(store *storage.Store) error {
				created, err := machine.Provision(cmd.Context(), store, location, ids)
				for _, m := range created {
					fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s at %s\n", m.ID, m.LocationID)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "location ID")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "machine ID (repeatable)")
	cmd.Flags().IntVar(&count, "count", 0, "number of machines with generated IDs")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		location string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List machines, optionally at one location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, func(store *storage.Store) error {
				var (
					machines []machine.Machine
					err      error
				)
				if location != "" {
					machines, err = store.ListByLocation(cmd.Context(), location)
				} else {
					machines, err = store.List(cmd.Context())
				}
				if err != nil {
					return fmt.Errorf("listing machines: %w", err)
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(machines)
				}
				return printMachines(cmd, machines)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "only machines at this location")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printMachines(cmd *cobra.Command, machines []machine.Machine) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MACHINE\tLOCATION\tSTATUS\tJOB\tUPDATED")
	for _, m := range machines {
		job := "-"
		if m.JobID != nil {
			job = *m.JobID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.LocationID, m.Status, job, m.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset MACHINE_ID",
		Short: "Return an ERROR machine to AVAILABLE",
		Long: "Return an ERROR machine to AVAILABLE and clear its job.\n" +
			"With --force, RUNNING and AWAITING_DROPOFF machines are released too.\n" +
			"A running allocator keeps its cached copy until it next writes the machine.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(store *storage.Store) error {
				m, err := machine.Reset(cmd.Context(), store, args[0], force)
				if err != nil {
					return fmt.Errorf("resetting %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", m.ID, m.Status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also release RUNNING and AWAITING_DROPOFF machines")
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for the allocation API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (client or operator name)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleClient), "client or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from security.jwt.access_token_ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage SQLite schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.StoreBackendSQLite {
				fmt.Fprintf(cmd.OutOrStdout(), "store backend %s has no schema migrations\n", cfg.Store.Backend)
				return nil
			}

			ctx := cmd.Context()
			db, err := database.Open(ctx, database.Config{
				Path:        cfg.Store.SQLite.Path,
				WALMode:     cfg.Store.SQLite.WALMode,
				BusyTimeout: cfg.Store.SQLite.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // CLI exit

			switch action {
			case "down":
				if err := db.MigrateDown(ctx, migrations.FS); err != nil {
					return fmt.Errorf("rolling back: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back latest migration")
			case "status":
				return printMigrationStatus(cmd, db)
			default:
				if err := db.Migrate(ctx, migrations.FS); err != nil {
					return fmt.Errorf("migrating: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			}
			return nil
		},
	}
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(cmd.Context(), migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED")
	for _, r := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t-\n", m.Version)
	}
	return w.Flush()
}
