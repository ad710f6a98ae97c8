package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/laps.report/internal/api"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/report"
)

// stopPressGap separates the two presses of a remote stop; it must stay
// inside the station's stop window.
const stopPressGap = 50 * time.Millisecond

// runRemoteCommand runs a command against a station over its HTTP API.
func runRemoteCommand(ctx context.Context, w io.Writer, c *api.Client, cmd string, args []string) error {
	switch cmd {
	case "stop":
		// The station ignores a single press, so stop presses twice.
		if _, err := c.Stop(ctx); err != nil {
			return err
		}
		select {
		case <-time.After(stopPressGap):
		case <-ctx.Done():
			return ctx.Err()
		}
		presses, err := c.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "stop sent (%d presses)\n", presses)
		return nil

	case "standings":
		var cats []race.CategoryStandings
		if len(args) > 0 {
			standings, err := c.CategoryStandings(ctx, args[0])
			if err != nil {
				return err
			}
			cats = []race.CategoryStandings{{Category: args[0], Standings: standings}}
		} else {
			var err error
			if cats, err = c.Standings(ctx); err != nil {
				return err
			}
		}
		for _, cat := range cats {
			fmt.Fprint(w, report.FormatStandings(cat.Category, cat.Standings))
		}
		return nil

	default:
		return fmt.Errorf("unknown remote command %q", cmd)
	}
}
