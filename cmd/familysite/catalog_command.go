package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"familysite/internal/airtable"
	"familysite/internal/config"
	"familysite/internal/logging"
	"familysite/internal/media"
	"familysite/internal/playback"
	"familysite/pkg/models"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	var (
		showLinks bool
		probe     bool
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the track catalog fetched from Airtable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			client := airtable.NewClient(cfg.Airtable, logger)

			tracks, err := client.FetchTracks(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if probe {
				printProbedTracks(cmd, cfg, tracks)
			} else {
				printTracks(out, tracks)
			}

			if showLinks {
				links, err := client.FetchLinks(cmd.Context())
				if err != nil {
					return err
				}
				printLinks(out, links)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showLinks, "links", false, "Also print the family links")
	cmd.Flags().BoolVar(&probe, "probe", false, "Download every track and report its format and duration")
	return cmd
}

func printTracks(out io.Writer, tracks []models.Track) {
	if len(tracks) == 0 {
		fmt.Fprintln(out, "Tracks: none")
		return
	}

	rows := lo.Map(tracks, func(t models.Track, i int) []string {
		return []string{strconv.Itoa(i), t.Name, t.Artist, t.SongURL}
	})
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Name", "Artist", "Song URL"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))
	fmt.Fprintf(out, "%d tracks\n", len(tracks))
}

func printProbedTracks(cmd *cobra.Command, cfg *config.Config, tracks []models.Track) {
	out := cmd.OutOrStdout()
	loader := playback.NewLoader(time.Duration(cfg.Player.FetchTimeout)*time.Second, 0, logging.Discard())

	rows := make([][]string, 0, len(tracks))
	for i, t := range tracks {
		row := []string{strconv.Itoa(i), t.Name, "", "", ""}

		data, err := loader.Fetch(cmd.Context(), t.SongURL)
		if err != nil {
			row[4] = err.Error()
			rows = append(rows, row)
			continue
		}
		info, err := media.Probe(data, t.SongURL)
		if err != nil {
			row[4] = err.Error()
			rows = append(rows, row)
			continue
		}
		row[2] = string(info.Format)
		row[3] = info.Duration.Round(time.Second).String()
		row[4] = "ok"
		rows = append(rows, row)
	}

	fmt.Fprintln(out, renderTable(
		[]string{"#", "Name", "Format", "Duration", "Status"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func printLinks(out io.Writer, links []models.Link) {
	if len(links) == 0 {
		fmt.Fprintln(out, "Links: none")
		return
	}

	rows := lo.Map(links, func(l models.Link, _ int) []string {
		return []string{string(l.Category), l.Name, l.URL}
	})
	fmt.Fprintln(out, renderTable([]string{"Category", "Name", "URL"}, rows, nil))
}
