package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/config"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic management API with telehealth signaling",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(callCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// withPool loads config and hands fn a connected pool.
func withPool(ctx context.Context, fn func(cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(cfg, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				schema := db.SchemaName(clinicOrDefault(clinic, cfg))
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := db.NewMigrator(pool, dir).Up(cmd.Context(), schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s).\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("clinic", "", "Clinic whose schema is migrated (default DEFAULT_CLINIC)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(cfg *config.Config, pool *pgxpool.Pool) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				schema := db.SchemaName(clinicOrDefault(clinic, cfg))
				statuses, err := db.NewMigrator(pool, dir).Status(cmd.Context(), schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("clinic", "", "Clinic whose schema is inspected (default DEFAULT_CLINIC)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func clinicOrDefault(clinic string, cfg *config.Config) string {
	if clinic != "" {
		return clinic
	}
	return cfg.DefaultClinic
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic schema and migrate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidClinicID(name) {
				return fmt.Errorf("invalid clinic name %q: use letters, digits and underscores", name)
			}
			return withPool(cmd.Context(), func(cfg *config.Config, pool *pgxpool.Pool) error {
				fmt.Printf("Creating clinic schema: %s\n", db.SchemaName(name))
				if err := db.CreateClinicSchema(cmd.Context(), pool, name, cfg.MigrationsDir); err != nil {
					return err
				}
				fmt.Println("Clinic created.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (letters, digits, underscores)")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List clinic schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(_ *config.Config, pool *pgxpool.Pool) error {
				clinics, err := db.ListClinics(cmd.Context(), pool)
				if err != nil {
					return err
				}
				for _, c := range clinics {
					fmt.Println(c)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(listCmd)
	return cmd
}
