package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manthysbr/techscout/internal/adapters/duckdb"
	"github.com/manthysbr/techscout/internal/core/domain"
)

func newInfluencersCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "influencers",
		Short: "Manage the AI-influencer table",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Replace the influencers table with a scraped JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := newLogger(os.Stderr, cfg, false)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			rows, err := parseInfluencers(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			// The file is locked while a server holds the catalog open.
			if err := duckdb.ImportInfluencers(cmd.Context(), cfg.Storage.InfluencersPath, rows); err != nil {
				return err
			}
			logger.Info("influencers imported", "count", len(rows), "db", cfg.Storage.InfluencersPath)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d influencers\n", len(rows))
			return nil
		},
	})
	return cmd
}

// influencerDocument is the scraper output: {"tech_influencers": [...]}.
type influencerDocument struct {
	TechInfluencers []domain.Influencer `json:"tech_influencers"`
}

// parseInfluencers decodes the document and numbers the rows from 1 in file order.
func parseInfluencers(r io.Reader) ([]domain.Influencer, error) {
	var doc influencerDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.TechInfluencers == nil {
		return nil, fmt.Errorf("missing tech_influencers array")
	}
	rows := make([]domain.Influencer, 0, len(doc.TechInfluencers))
	for i, inf := range doc.TechInfluencers {
		if strings.TrimSpace(inf.Name) == "" {
			return nil, fmt.Errorf("influencer %d: name is required", i)
		}
		inf.ID = i + 1
		rows = append(rows, inf)
	}
	return rows, nil
}
