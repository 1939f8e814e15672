package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/concierge-go/internal/logging"
)

// NewResearchCmd constructs the `concierge research` command, which runs a
// deep research and prints each event as one JSON line.
func NewResearchCmd() *cobra.Command {
	var imagePath string
	var session string

	cmd := &cobra.Command{
		Use:   "research [intent]",
		Short: "Research five item categories for a shopping intent",
		Long: `Run a deep research for a shopping intent.

The chat model proposes five item categories with search phrases. Each
category is searched concurrently; no item appears in more than one
category. Events are printed as JSON lines as they arrive, ending with the
"Concierge's Pick" aggregate of the best items across categories.

Examples:
  concierge research "weekend camping trip with kids"
  concierge research "minimalist home office" --image desk.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			image, err := readImage(imagePath)
			if err != nil {
				return fmt.Errorf("research: %w", err)
			}

			backends, err := openStorage(ctx)
			if err != nil {
				return fmt.Errorf("research: %w", err)
			}
			defer func() { _ = backends.Close() }()
			if err := backends.openHistory(log); err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
			}

			svc, err := buildService(ctx, log, backends, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("research: %w", err)
			}

			events, cats, err := svc.RunDeepResearch(ctx, session, args[0], image)
			if err != nil {
				return err
			}
			names := make([]string, len(cats))
			for i, c := range cats {
				names[i] = c.Name
			}
			log.Info("researching categories", slog.Any("categories", names))

			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return ctx.Err()
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Reference image to judge relevance against")
	cmd.Flags().StringVar(&session, "session", cliSessionID, "Session ID recorded in search history")

	return cmd
}
