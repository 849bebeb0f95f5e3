package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"cryptocollector/internal/chart"
	"cryptocollector/internal/model"
)

const barWidth = 40

func printCandles(w io.Writer, format string, candles []model.Candle) error {
	if format == "json" {
		return writeJSON(w, candles)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\topen\thigh\tlow\tclose\tdir\t")
	for _, c := range candles {
		dir := "down"
		if c.IsIncreasing() {
			dir = "up"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			c.TS.UTC().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, dir)
	}
	return tw.Flush()
}

func printLevels(w io.Writer, format string, levels []chart.Level) error {
	if format == "json" {
		return writeJSON(w, levels)
	}
	peak := 0
	for _, l := range levels {
		if l.Occurrences > peak {
			peak = l.Occurrences
		}
	}
	// highest price on top
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		n := 0
		if peak > 0 {
			n = l.Occurrences * barWidth / peak
		}
		if _, err := fmt.Fprintf(w, "%14.4f | %-*s %d\n", l.Price, barWidth, strings.Repeat("#", n), l.Occurrences); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
