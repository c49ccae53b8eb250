// efctl - EventFlow admin CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/config"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/storage"
)

const version = "0.3.0"

var (
	configPath string
	dataDir    string
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "efctl",
		Short: "EventFlow admin CLI",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")

	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*storage.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	db, err := storage.Open(storage.Config{Path: filepath.Join(cfg.DataDir, "eventflow.db")})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var name string
	createCmd := &cobra.Command{
		Use:   "create [email]",
		Short: "Create a user and print their API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			user := &core.User{
				ID:       core.UserID(uuid.New().String()),
				Email:    args[0],
				Name:     name,
				APIToken: uuid.New().String(),
			}
			if err := storage.NewUserStore(db).Create(user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			fmt.Printf("User created:\n")
			fmt.Printf("  ID:    %s\n", user.ID)
			fmt.Printf("  Email: %s\n", user.Email)
			fmt.Printf("  Token: %s\n", user.APIToken)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Display name")

	tokenCmd := &cobra.Command{
		Use:   "token [email]",
		Short: "Print a user's API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := storage.NewUserStore(db).GetByEmail(args[0])
			if err != nil {
				return err
			}
			fmt.Println(user.APIToken)
			return nil
		},
	}

	cmd.AddCommand(createCmd, tokenCmd)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [email]",
		Short: "Show a user's suggestion and event counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			users := storage.NewUserStore(db)
			user, err := users.GetByEmail(args[0])
			if err != nil {
				return err
			}

			counts, err := storage.NewSuggestionStore(db).CountByStatus(user.ID)
			if err != nil {
				return err
			}
			eventCount, err := storage.NewEventStore(db).CountByUser(user.ID)
			if err != nil {
				return err
			}
			connectorList, err := storage.NewConnectorStore(db).ListByUser(user.ID)
			if err != nil {
				return err
			}
			settings, err := users.GetSettings(user.ID)
			if err != nil {
				return err
			}

			fmt.Printf("%s (%s)\n", user.Email, user.ID)
			fmt.Printf("  Suggestions:\n")
			for _, status := range []core.SuggestionStatus{core.StatusPending, core.StatusApproved, core.StatusRejected, core.StatusSnoozed} {
				fmt.Printf("    %-9s %d\n", status, counts[status])
			}
			fmt.Printf("  Events:     %d\n", eventCount)
			fmt.Printf("  Connectors: %d\n", len(connectorList))
			fmt.Printf("  Auto-approve: %v (threshold %.2f)\n", settings.AutoApprove, settings.ConfidenceMin)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := audit.NewLog(db).VerifyChain(); err != nil {
				return fmt.Errorf("audit chain broken: %w", err)
			}
			fmt.Println("Audit chain intact")
			return nil
		},
	}

	cmd.AddCommand(verifyCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("efctl %s\n", version)
		},
	}
}
