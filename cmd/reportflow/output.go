package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"github.com/randalmurphal/reportflow/pkg/reportflow"
	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

func printReport(ctx context.Context, a *app, reportID string) error {
	st, err := a.svc.GetState(ctx, reportID)
	if err != nil {
		return err
	}
	p, err := a.svc.GetProgress(ctx, reportID)
	if err != nil && !errors.Is(err, reportflow.ErrNotFound) {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"state": st, "progress": p})
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"Report", st.ReportID})
	tw.AppendRow(table.Row{"Status", st.Status})
	if st.CurrentStep != "" {
		tw.AppendRow(table.Row{"Step", st.CurrentStep})
	}
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%% (phase %d%%)", p.OverallProgress, p.PhaseProgress)})
	if p.Title != "" {
		tw.AppendRow(table.Row{"Title", p.Title})
	}
	if p.Headline != "" {
		tw.AppendRow(table.Row{"Headline", p.Headline})
	}
	if st.Status == state.StatusClarifying {
		tw.AppendRow(table.Row{"Question", st.ClarificationQuestion})
	}
	if st.Error != nil {
		tw.AppendRow(table.Row{"Error", fmt.Sprintf("[%s] %s", st.Error.Kind, st.Error.Message)})
	}
	tw.AppendRow(table.Row{"Completed", strings.Join(st.CompletedSteps(), ", ")})
	tw.AppendRow(table.Row{"Usage", fmt.Sprintf("%d calls, %d in / %d out tokens, $%.4f",
		st.Usage.Calls, st.Usage.InputTokens, st.Usage.OutputTokens, st.Usage.CostUSD)})
	tw.Render()

	if body := st.String(catalog.ReportBodyPath); body != "" && st.Status == state.StatusComplete {
		fmt.Println()
		fmt.Println(body)
	}
	return nil
}

func printSteps(ctx context.Context, a *app, reportID string) error {
	if _, err := a.svc.GetState(ctx, reportID); err != nil {
		return err
	}
	steps, err := a.svc.Steps(reportID)
	if err != nil {
		return err
	}
	events, err := a.svc.Events(ctx, reportID)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"steps": steps, "events": events})
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Journal")
	tw.AppendHeader(table.Row{"#", "Step", "Recorded", "Bytes"})
	for _, s := range steps {
		tw.AppendRow(table.Row{s.Sequence, s.Step, s.RecordedAt.Format(time.RFC3339), s.Size})
	}
	tw.Render()

	if len(events) == 0 {
		return nil
	}
	ew := table.NewWriter()
	ew.SetOutputMirror(os.Stdout)
	ew.SetTitle("Events")
	ew.AppendHeader(table.Row{"Event", "Status", "Sent"})
	for _, e := range events {
		ew.AppendRow(table.Row{e.Name, e.Status, e.SentAt.Format(time.RFC3339)})
	}
	ew.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
