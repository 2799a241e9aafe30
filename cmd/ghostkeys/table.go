package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"ghostkeys/internal/mapper"
)

func cmdTable() {
	printTables(os.Stdout, mapper.DefaultTables())
}

func shiftLabel(shift bool) string {
	if shift {
		return "shift"
	}
	return ""
}

func printTables(out io.Writer, t *mapper.Tables) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "POSITION\tSHIFT\tOUTPUT")
	for _, e := range t.PositionEntries() {
		fmt.Fprintf(w, "%s\t%s\t%c\n", e.Key, shiftLabel(e.Shift), e.Out)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "DEAD KEY\tSHIFT\tACCENT")
	for _, e := range t.TriggerEntries() {
		fmt.Fprintf(w, "%s\t%s\t%s (%c)\n", e.Key, shiftLabel(e.Shift), e.Accent, e.Accent.Bare())
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ACCENT\tBASE\tOUTPUT")
	for _, e := range t.ComboEntries() {
		fmt.Fprintf(w, "%s\t%c\t%c\n", e.Accent, e.Base, e.Out)
	}
	w.Flush()
}
