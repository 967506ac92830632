package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/rizkirmdhn/teledl/internal/app"
	"github.com/rizkirmdhn/teledl/internal/downloader"
	"github.com/rizkirmdhn/teledl/internal/scraper"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/spf13/cobra"
)

type listing struct {
	Title string                  `json:"title"`
	Slug  string                  `json:"slug"`
	Stats scraper.TreeStats       `json:"stats"`
	Media []models.MediaReference `json:"media"`
	URLs  []string                `json:"urls"`
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the media of a page without downloading it",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().StringP("link", "l", "", "Telegraph page URL or slug (required)")
	cmd.MarkFlagRequired("link")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pipeline, err := app.New(cfg, log)
	if err != nil {
		return err
	}

	link, _ := cmd.Flags().GetString("link")
	page, refs, err := pipeline.Resolve(cmdContext(cmd), link, cfg.Downloader.Dedupe)
	if err != nil {
		return err
	}

	stats, err := scraper.ExtractStats(page.Content...)
	if err != nil {
		return err
	}

	out := listing{Title: page.Title, Slug: page.Slug, Stats: stats, Media: refs}
	for _, ref := range refs {
		out.URLs = append(out.URLs, downloader.ResolveURL(cfg.Telegraph.FileBase, ref))
	}

	if cfg.App.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "# %s (%d media, %d nodes)\n", page.Title, len(refs), stats.Nodes)
	for i, ref := range refs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ref.SequenceIndex, ref.Tag, ref.FileID, out.URLs[i])
	}
	return w.Flush()
}
