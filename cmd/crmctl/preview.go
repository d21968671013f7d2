// cmd/crmctl/preview.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-segments/internal/audience"
	"github.com/unclebandit/smsleopard-segments/internal/config"
	"github.com/unclebandit/smsleopard-segments/internal/db"
	"github.com/unclebandit/smsleopard-segments/internal/repository"
	"github.com/unclebandit/smsleopard-segments/internal/segment"
)

func newPreviewCmd() *cobra.Command {
	var rulePath, customersPath string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the audience a rule file selects",
		Long: `Compiles a JSON or YAML rule file and prints the matching audience size
and a sample. With --customers the rule runs against a JSON array of
customers instead of the configured database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var customers repository.CustomerRepositoryInterface
			if customersPath != "" {
				list, err := repository.LoadCustomers(customersPath)
				if err != nil {
					return err
				}
				customers = repository.NewMemoryStore(list...).Customers()
			} else {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				conn, err := db.Open(ctx, cfg.DSN(), zap.NewNop())
				if err != nil {
					return err
				}
				defer conn.Close()
				customers = repository.NewPostgresStore(conn).Customers()
			}
			return runPreview(ctx, cmd.OutOrStdout(), rulePath, audience.NewResolver(customers))
		},
	}
	cmd.Flags().StringVar(&rulePath, "rule", "", "rule file (.json, .yaml or .yml)")
	cmd.Flags().StringVar(&customersPath, "customers", "", "JSON file of customers to preview against")
	_ = cmd.MarkFlagRequired("rule")
	return cmd
}

func runPreview(ctx context.Context, out io.Writer, rulePath string, r *audience.Resolver) error {
	rule, err := loadRule(rulePath)
	if err != nil {
		return err
	}
	preview, err := r.Preview(ctx, segment.Compile(rule))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Rule: %s\n", rule.Describe())
	fmt.Fprintf(out, "Audience size: %d\n", preview.Count)
	for _, c := range preview.Sample {
		fmt.Fprintf(out, "  #%d %s <%s> spend=%.2f visits=%d last=%s\n",
			c.ID, c.Name, c.Contact(), c.Spend, c.VisitCount, c.LastActivityAt.Format("2006-01-02"))
	}
	return nil
}

func loadRule(path string) (segment.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return segment.ParseYAML(data)
	default:
		return segment.Parse(data)
	}
}
