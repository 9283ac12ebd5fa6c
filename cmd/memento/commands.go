package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/importer"
	"github.com/scrypster/memento-graph/internal/search"
	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/pkg/types"
)

func newIndexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "index <dir>",
		Short: "Index every markdown note under a directory",
		Long: "Index every markdown note under dir into the workspace. Notes already indexed are\n" +
			"updated in place; sections that disappeared from a note are removed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.IndexNotes(cmd.Context(), c.workspace, args[0])
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printIndex(w, c.workspaceName(), res)
			})
		},
	}
}

func printIndex(w io.Writer, ws string, res *importer.ImportResult) {
	printf(w, "Indexed %d of %d files into %s (%d chunks, %d skipped, %d failed) in %s\n",
		res.FilesProcessed, res.FilesFound, ws, res.ChunksIndexed, res.FilesSkipped, res.FilesFailed, res.Duration.Round(time.Millisecond))
	for _, e := range res.Errors {
		printf(w, "  ! %s\n", e)
	}
}

func newSearchCmd(c *cli) *cobra.Command {
	var (
		req      engine.SearchRequest
		noExpand bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.app.Registry.Engine(cmd.Context(), c.workspace)
			if err != nil {
				return err
			}
			req.Query = strings.Join(args, " ")
			if noExpand {
				expand := false
				req.ExpandGraph = &expand
			}
			resp := eng.SearchAdvanced(cmd.Context(), req)
			if err := c.emit(cmd.OutOrStdout(), resp, func(w io.Writer) { printSearch(w, resp) }); err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("search failed: %s", resp.Error)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&req.MaxResults, "max", "n", 0, "primary results to return (default from config)")
	f.BoolVar(&noExpand, "no-expand", false, "do not append related context")
	f.BoolVar(&req.TrackAccess, "track-access", false, "record an access on each result")
	f.StringVar(&req.Filters.Type, "type", "", "only results of this entry type")
	f.IntVar(&req.Filters.MinImportance, "min-importance", 0, "only results at least this important (0-10)")
	f.StringSliceVar(&req.Filters.People, "person", nil, "only results mentioning any of these people")
	f.StringSliceVar(&req.Filters.Tags, "tag", nil, "only results carrying any of these tags")
	f.StringVar(&req.Filters.Case, "case", "", "only results about this case")
	return cmd
}

func printSearch(w io.Writer, resp *engine.SearchResponse) {
	if resp.Error != "" {
		return
	}
	printf(w, "%s query (vector %.2f, bm25 %.2f, graph %.2f)\n",
		resp.QueryType, resp.Weights.Vector, resp.Weights.BM25, resp.Weights.Graph)
	if len(resp.Results) == 0 {
		printf(w, "No results.\n")
		return
	}
	for i, r := range resp.Results {
		printResult(w, i+1, r)
	}
}

func printResult(w io.Writer, n int, r search.Result) {
	marker := fmt.Sprintf("%2d.", n)
	if r.Related {
		marker = " +"
	}
	printf(w, "%s %s:%d-%d  %.3f", marker, r.Path, r.StartLine, r.EndLine, r.Score)
	if r.Type != "" {
		printf(w, "  [%s]", r.Type)
	}
	if r.Related && len(r.Via) > 0 {
		printf(w, "  via %s", strings.Join(r.Via, ","))
	}
	printf(w, "\n    %s\n", strings.ReplaceAll(r.Snippet, "\n", " "))
}

func newExploreCmd(c *cli) *cobra.Command {
	var req engine.ExploreRequest
	cmd := &cobra.Command{
		Use:   "explore <entity>",
		Short: "Show the graph neighbourhood of an entity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.app.Registry.Engine(cmd.Context(), c.workspace)
			if err != nil {
				return err
			}
			req.Entity = strings.Join(args, " ")
			resp, err := eng.Explore(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), resp, func(w io.Writer) { printExplore(w, req.Entity, resp) })
		},
	}
	cmd.Flags().IntVarP(&req.Depth, "depth", "d", 0, "hops to traverse, 1-3 (default 1)")
	cmd.Flags().StringSliceVar(&req.RelationshipTypes, "rel", nil, "follow only these relationship types")
	return cmd
}

func printExplore(w io.Writer, entity string, resp *engine.ExploreResponse) {
	if !resp.Found {
		printf(w, "No entity named %q.\n", entity)
		return
	}
	printf(w, "%s (%s)\n", resp.CenterNode.Name, resp.CenterNode.Type)
	for _, cn := range resp.ConnectedNodes {
		arrow := "->"
		if cn.Direction == types.DirectionIn {
			arrow = "<-"
		}
		printf(w, "%s%s %s %s (%s)\n", strings.Repeat("  ", cn.Depth), arrow, cn.Relationship, cn.Node.Name, cn.Node.Type)
	}
	if len(resp.RelatedDocuments) > 0 {
		printf(w, "Documents:\n")
		for _, d := range resp.RelatedDocuments {
			printf(w, "  %s:%d-%d\n", d.Path, d.StartLine, d.EndLine)
		}
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := c.app.Registry.Engine(cmd.Context(), c.workspace)
			if err != nil {
				return err
			}
			st, err := eng.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), st, func(w io.Writer) { printStats(w, c.workspaceName(), st) })
		},
	}
}

func printStats(w io.Writer, ws string, st *storage.Stats) {
	printf(w, "Workspace %s\n", ws)
	printf(w, "  nodes %d, edges %d, chunks %d, files %d, tags %d\n", st.Nodes, st.Edges, st.Chunks, st.Files, st.Tags)
	if len(st.TopConnected) > 0 {
		printf(w, "  most connected:\n")
		for _, n := range st.TopConnected {
			printf(w, "    %s (%s) %d\n", n.Name, n.Type, n.Degree)
		}
	}
	if len(st.PopularTags) > 0 {
		names := make([]string, 0, len(st.PopularTags))
		for _, t := range st.PopularTags {
			names = append(names, t.Tag)
		}
		printf(w, "  popular tags: %s\n", strings.Join(names, ", "))
	}
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP on stdin/stdout",
		Long:  "Serve the Model Context Protocol on stdin/stdout, like memento-mcp. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.ServeMCP(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
