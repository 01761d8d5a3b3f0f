package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// printRun renders the step checklist of a finished run.
func printRun(w io.Writer, run domain.MarketCreationRun) {
	fmt.Fprintf(w, "run %s: %s (%s)\n", run.ID, run.Status, run.Ticker)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "Status", "Tx", "Error"})
	table.SetAutoWrapText(false)
	for _, s := range run.Steps {
		hash := ""
		if s.TxHash != nil {
			hash = s.TxHash.Hex()
		}
		table.Append([]string{s.Title, string(s.Status), hash, s.Error})
	}
	table.Render()

	if m := run.Market; m.MarketID != nil {
		fmt.Fprintf(w, "market %s  pricing mm %s  positions %v\n", m.MarketID, m.MarketMaker.Hex(), m.PositionIDs)
	}
	if run.Partial() {
		fmt.Fprintf(w, "run stopped at %s after earlier steps committed; the market is partially created\n", run.FailedStep)
	}
}
