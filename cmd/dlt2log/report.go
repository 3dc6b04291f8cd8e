package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/johnny1995johnny1995/dlt2log/internal/common"
	"github.com/johnny1995johnny1995/dlt2log/internal/report"
)

func reportCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	summaryPath := fs.String("summary", "", "conversion summary JSON")
	pdfPath := fs.String("pdf", "", "render the summary to this PDF")
	historyPath := fs.String("history", "", "list the runs recorded in a JSONL history file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *historyPath != "":
		return printHistory(*historyPath, stdout)
	case *summaryPath == "":
		return errors.New("required: --summary or --history")
	}
	sum, err := report.LoadJSON(*summaryPath)
	if err != nil {
		return fmt.Errorf("load summary: %w", err)
	}
	fmt.Fprintf(stdout, "Run %s: %s -> %s\n", sum.RunID, sum.Input, sum.Output)
	fmt.Fprintf(stdout, "Frames=%d legacy=%d extended=%d duration=%s\n", sum.Frames, sum.Legacy, sum.Extended, sum.Duration.Round(time.Millisecond))
	for _, c := range report.Sorted(sum.Levels) {
		fmt.Fprintf(stdout, "  %-20s %d\n", c.Name, c.Count)
	}
	if !sum.OK() {
		fmt.Fprintf(stdout, "Error: %s\n", sum.Error)
	}
	if *pdfPath == "" {
		return nil
	}
	if err := report.SavePDF(sum, *pdfPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	fmt.Fprintf(stdout, "PDF written to %s\n", *pdfPath)
	return nil
}

func printHistory(path string, stdout io.Writer) error {
	entries, err := common.ReadRunLog(path)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tINPUT\tFRAMES\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", e.Ts.Format(time.RFC3339), e.RunID, e.Input, e.Frames, e.Error)
	}
	return tw.Flush()
}
