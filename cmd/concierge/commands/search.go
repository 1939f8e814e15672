package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/concierge-go/internal/concierge"
	"github.com/54b3r/concierge-go/internal/logging"
)

// cliSessionID is the session the CLI searches and researches under.
const cliSessionID = "cli"

// NewSearchCmd constructs the `concierge search` command, which runs one
// category search and prints the ranked result as JSON.
func NewSearchCmd() *cobra.Command {
	var category string
	var queries []string
	var imagePath string
	var session string

	cmd := &cobra.Command{
		Use:   "search [intent]",
		Short: "Search the catalog for one item category",
		Long: `Search the catalog for one item category and print the ranked result.

Each --query phrase is searched on the text, multimodal and sparse indexes.
The merged candidates are judged against the intent (and --image, when
given) and reranked; the top items are printed as JSON.

Examples:
  concierge search "beach wedding guest" --category "linen suits" -q "light linen suit" -q "beige summer blazer"
  concierge search "hiking in the alps" --category boots -q "waterproof hiking boots" --image ref.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(queries) == 0 {
				return fmt.Errorf("search: at least one --query is required")
			}
			image, err := readImage(imagePath)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			backends, err := openStorage(ctx)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = backends.Close() }()
			if err := backends.openHistory(log); err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
			}

			svc, err := buildService(ctx, log, backends, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			res, err := svc.FindItems(ctx, concierge.FindRequest{
				SessionID:      session,
				Intent:         args[0],
				Category:       category,
				Queries:        queries,
				ReferenceImage: image,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Item category to search")
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "Search phrase (repeatable)")
	cmd.Flags().StringVar(&imagePath, "image", "", "Reference image to judge relevance against")
	cmd.Flags().StringVar(&session, "session", cliSessionID, "Session ID recorded in search history")

	return cmd
}
