package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/secondbrain/internal/app"
	"github.com/ent0n29/secondbrain/internal/assistant"
	"github.com/ent0n29/secondbrain/internal/config"
	"github.com/ent0n29/secondbrain/internal/thought"
)

// withAssistant builds the service for a one-shot command and tears it down
// afterwards so queued mirror work is flushed.
func withAssistant(ctx context.Context, fn func(*assistant.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(built.Assistant)
	if err := built.Cleanup(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newRememberCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "remember <note>",
		Short: "Store a note as a single thought",
		Example: `  secondbrain remember --user alice "Batch email twice a day"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			note := strings.Join(args, " ")
			return withAssistant(cmd.Context(), func(svc *assistant.Service) error {
				stored, err := svc.Remember(cmd.Context(), userID, note)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", stored.ID, stored.Kind, stored.Claim)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner of the note")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		userID string
		opts   assistant.SearchOptions
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored thoughts",
		Example: `  secondbrain search --user alice "focus habits"
  secondbrain search --user alice --hybrid --tags work,health "sleep"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			opts.Kind = thought.Kind(kind)
			opts.AllUsers = userID == ""
			return withAssistant(cmd.Context(), func(svc *assistant.Service) error {
				matches, err := svc.Search(cmd.Context(), userID, query, opts)
				if err != nil {
					return err
				}
				return printMatches(cmd.OutOrStdout(), matches)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "owner whose thoughts are searched; empty searches everyone")
	cmd.Flags().IntVarP(&opts.Limit, "top", "k", 0, "number of results (default SECONDBRAIN_SEARCH_LIMIT)")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", 0, "minimum cosine similarity (default SECONDBRAIN_SEARCH_THRESHOLD)")
	cmd.Flags().BoolVar(&opts.Hybrid, "hybrid", false, "combine vector and text ranking")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "only thoughts carrying one of these tags")
	cmd.Flags().StringVar(&kind, "kind", "", "only thoughts of this kind")
	return cmd
}

func printMatches(w io.Writer, matches []thought.Match) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "no matching thoughts")
		return err
	}
	for i, m := range matches {
		score := m.Similarity
		if m.HybridScore > 0 {
			score = m.HybridScore
		}
		if _, err := fmt.Fprintf(w, "%2d. %.3f [%s] %s\n", i+1, score, m.Kind, m.Claim); err != nil {
			return err
		}
	}
	return nil
}
