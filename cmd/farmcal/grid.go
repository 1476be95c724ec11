package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"farmcal/internal/calendar"
)

var (
	gridMonth string
	gridField int
	gridJSON  bool
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Fetch one month and print its grid",
	Long: `Loads every configured source once, lays out the month and prints it.

Example:
  farmcal grid --month 2025-05 --field 22`,
	RunE: runGrid,
}

func init() {
	gridCmd.Flags().StringVar(&gridMonth, "month", "", "Month as YYYY-MM (default: current month)")
	gridCmd.Flags().IntVar(&gridField, "field", 0, "Farmland ID (0 = all fields)")
	gridCmd.Flags().BoolVar(&gridJSON, "json", false, "Print the grid as JSON")
}

func runGrid(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ym := calendar.YearMonthOf(time.Now().In(a.cfg.Location()))
	if gridMonth != "" {
		if ym, err = calendar.ParseYearMonth(gridMonth); err != nil {
			return err
		}
	}

	g, err := a.planner.Grid(cmd.Context(), gridField, ym)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if gridJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	}
	printGrid(out, g)
	return nil
}

// printGrid writes one block per day: the date, then one line per lane
// and a "+N more" line for overflow. Padding days are marked with '~'.
func printGrid(w io.Writer, g *calendar.Grid) {
	fmt.Fprintf(w, "%s (week starts %s, %d lanes)\n", g.Month, g.WeekStart, g.MaxLanes)
	for i, row := range g.Rows() {
		fmt.Fprintf(w, "\nweek %d\n", i+1)
		for _, c := range row {
			marker := " "
			switch {
			case c.IsToday:
				marker = "*"
			case !c.InCurrentMonth:
				marker = "~"
			}
			fmt.Fprintf(w, "%s %s %s\n", marker, c.Date.Format("2006-01-02"), c.Date.Weekday().String()[:3])
			for _, a := range c.Events {
				fmt.Fprintf(w, "    [%d] %-4s %s %s\n", a.Lane, a.Event.Kind, segment(a.Membership), a.Event.Title)
			}
			if c.OverflowCount > 0 {
				fmt.Fprintf(w, "    +%d more\n", c.OverflowCount)
			}
		}
	}
	for _, sk := range g.Skipped {
		fmt.Fprintf(w, "skipped %s: %v\n", sk.EventID, sk.Err)
	}
}

func segment(m calendar.Membership) string {
	switch {
	case m.IsSingleDay:
		return "[]"
	case m.IsStart:
		return "[="
	case m.IsEnd:
		return "=]"
	default:
		return "=="
	}
}
