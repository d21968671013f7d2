// cmd/crmctl/seed.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/config"
	"github.com/unclebandit/smsleopard-segments/internal/db"
)

func newSeedCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the schema and run every .sql file in the seed directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			conn, err := db.Open(ctx, cfg.DSN(), zap.NewNop())
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(ctx, conn); err != nil {
				return err
			}

			files, err := seedFiles(dir)
			if err != nil {
				return err
			}
			for _, file := range files {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				if _, err := conn.ExecContext(ctx, string(content)); err != nil {
					return fmt.Errorf("execute %s: %w", file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded: %s\n", file)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database seeding completed successfully!")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "seed", "directory holding the seed .sql files")
	return cmd
}

// seedFiles lists the .sql files of dir in name order.
func seedFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
