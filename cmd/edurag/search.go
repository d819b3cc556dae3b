package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/engine"
	"github.com/bull/edu-rag-server/internal/routing"
)

var searchFlags struct {
	subject      string
	standard     int
	limit        int
	contentTypes []string
	difficulties []string
}

var popularFlags struct {
	limit   int
	subject string
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a routed, cached hybrid search",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Classify a query without searching",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := routing.NewRouter(cfg.Routing)
		if err != nil {
			return err
		}
		d := router.Route(strings.Join(args, " "), nil)
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, d)
		}
		fmt.Fprintf(out, "Educational: %t\n", d.IsEducational)
		if !d.IsEducational {
			fmt.Fprintf(out, "  Reason: %s\n", d.Reason)
			return nil
		}
		fmt.Fprintf(out, "  Subject: %s (confidence %.2f)\n", d.PrimarySubject, d.Confidence)
		fmt.Fprintf(out, "  Query type: %s\n", d.QueryType)
		fmt.Fprintf(out, "  Difficulty: %s\n", d.Difficulty)
		if len(d.DetectedKeywords) > 0 {
			fmt.Fprintf(out, "  Keywords: %s\n", strings.Join(d.DetectedKeywords, ", "))
		}
		return nil
	},
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "List the most frequently searched queries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, closeFn, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		var queries []cache.PopularQuery
		if popularFlags.subject != "" {
			queries = rc.SubjectQueries(cmd.Context(), strings.ToLower(popularFlags.subject), popularFlags.limit)
		} else {
			queries = rc.PopularQueries(cmd.Context(), popularFlags.limit)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, queries)
		}
		if len(queries) == 0 {
			fmt.Fprintln(out, "No queries recorded yet.")
			return nil
		}
		for i, q := range queries {
			fmt.Fprintf(out, "%2d. %s (%.0f)\n", i+1, q.Query, q.Count)
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached search, routing decision and statistic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, closeFn, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		n := rc.Clear(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d keys\n", n)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hit and miss counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, closeFn, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		m := rc.Metrics(cmd.Context())
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, m)
		}
		fmt.Fprintf(out, "Hits: %d\n", m.Hits)
		fmt.Fprintf(out, "Misses: %d\n", m.Misses)
		fmt.Fprintf(out, "Hit rate: %.1f%%\n", m.HitRate*100)
		return nil
	},
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchFlags.subject, "subject", "", "restrict to a subject")
	f.IntVar(&searchFlags.standard, "standard", 0, "restrict to a standard 1-12")
	f.IntVar(&searchFlags.limit, "limit", 0, "maximum results (default from config)")
	f.StringSliceVar(&searchFlags.contentTypes, "content-type", nil, "text, formula, diagram_description or mixed")
	f.StringSliceVar(&searchFlags.difficulties, "difficulty", nil, "basic, intermediate or advanced")

	popularCmd.Flags().IntVar(&popularFlags.limit, "limit", 10, "number of queries")
	popularCmd.Flags().StringVar(&popularFlags.subject, "subject", "", "only queries routed to this subject")

	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
	rootCmd.AddCommand(searchCmd, routeCmd, popularCmd, cacheCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters := domain.SearchFilters{
		Subject:  strings.ToLower(searchFlags.subject),
		Standard: searchFlags.standard,
	}
	for _, ct := range searchFlags.contentTypes {
		filters.ContentTypes = append(filters.ContentTypes, domain.ContentType(ct))
	}
	for _, d := range searchFlags.difficulties {
		filters.Difficulties = append(filters.Difficulties, domain.Difficulty(d))
	}

	b, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	resp, err := b.engine.Search(cmd.Context(), engine.SearchRequest{
		Query:   strings.Join(args, " "),
		Filters: filters,
		Limit:   searchFlags.limit,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, resp)
	}

	fmt.Fprintf(out, "Subject: %s  Type: %s  Cached: %t  Took: %s\n",
		resp.Routing.PrimarySubject, resp.Routing.QueryType, resp.Cached, resp.Took)
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%d. [%.3f] %s (level %d, %s)\n", i+1, r.FinalScore, r.ChunkID, r.Metadata.Level, r.Metadata.ContentType)
		if r.Metadata.Title != "" {
			fmt.Fprintf(out, "   %s\n", r.Metadata.Title)
		}
		fmt.Fprintf(out, "   %s\n", preview(r.Content, 200))
	}
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
