package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/container"
)

type searchOptions struct {
	maxFiles   int
	maxResults int
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	sopts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search FILE QUERY",
		Short: "Deep search the nodes of a container with the configured embedding model",
		Long: `Embed QUERY and rank the nodes of the container. For a pack, the
--max-files best matching resources are searched and node scores are
weighted by the resource score.

The container must have been embedded with the configured model.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, (*app).withEmbedder, func(ctx context.Context, a *app) error {
				return runSearch(ctx, a, cmd.OutOrStdout(), args[0], args[1], sopts)
			})
		},
	}
	cmd.Flags().IntVar(&sopts.maxFiles, "max-files", 10, "resources of a pack to search inside")
	cmd.Flags().IntVar(&sopts.maxResults, "max-results", 5, "nodes to print")
	return cmd
}

func runSearch(ctx context.Context, a *app, out io.Writer, file, query string, sopts *searchOptions) error {
	if sopts.maxFiles <= 0 || sopts.maxResults <= 0 {
		return fmt.Errorf("--max-files and --max-results must be positive")
	}
	f, err := readContainer(file)
	if err != nil {
		return err
	}

	var models []string
	if f.pack != nil {
		models = f.pack.Models()
	} else {
		models = f.kai.Resource.EmbeddingModels()
	}
	if !slices.Contains(models, a.gen.Model()) {
		return fmt.Errorf("%s was embedded with %s, configured model is %s",
			file, strings.Join(models, ", "), a.gen.Model())
	}

	emb, err := a.gen.GenerateEmbeddingDefault(ctx, query)
	if err != nil {
		return err
	}

	var hits []container.RetrievedNode
	if f.pack != nil {
		hits, err = f.pack.DeepVectorSearch(ctx, emb.Vector, sopts.maxFiles, sopts.maxResults)
		if err != nil {
			return err
		}
	} else {
		for _, n := range f.kai.VectorSearch(emb.Vector, sopts.maxResults) {
			hits = append(hits, container.RetrievedNode{RetrievedNode: n})
		}
	}
	a.logger.Debug(ctx, "searched container", zap.String("file", file), zap.Int("hits", len(hits)))

	for i, h := range hits {
		location := h.Header.Name
		if !h.Path.IsRoot() {
			location = h.Path.String()
		}
		fmt.Fprintf(out, "%s %s %s\n    %s\n",
			labelStyle.Render(fmt.Sprintf("%d.", i+1)),
			metaStyle.Render(fmt.Sprintf("%.4f", h.Score)),
			itemStyle.Render(location+"#"+strings.Join(h.IDPath, "/")),
			preview(nodeText(h.Node)),
		)
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, metaStyle.Render("no results"))
	}
	return nil
}
