package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/resolver"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

func renderPublishResult(w io.Writer, entry *models.LedgerEntry, result *ledger.Result) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRow(table.Row{"Workflow", entry.WorkflowID})
	tw.AppendRow(table.Row{"Digest", entry.HistoryDigestSha256})
	tw.AppendRow(table.Row{"Entry", result.EntryPath})

	relay := "not configured"
	if result.HTTPPosted != nil {
		relay = "failed"
		if *result.HTTPPosted {
			relay = "posted"
		}

		relay += " (" + strconv.Itoa(result.HTTPAttempts) + " attempts)"
	}

	tw.AppendRow(table.Row{"Relay", relay})

	if result.HTTPError != "" {
		tw.AppendRow(table.Row{"Relay error", result.HTTPError})
	}

	tw.Render()

	return nil
}

func renderResolution(w io.Writer, res *resolver.Resolution) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRow(table.Row{"Status", res.Status})
	tw.AppendRow(table.Row{"Exists", res.Exists})

	if res.Exists {
		tw.AppendRow(table.Row{"Path", res.Path})
		tw.AppendRow(table.Row{"Size", humanize.Bytes(uint64(res.Size))})
	}

	if res.MissingReason != "" {
		tw.AppendRow(table.Row{"Missing", res.MissingReason})
	}

	if res.StatusCode != 0 {
		tw.AppendRow(table.Row{"HTTP status", res.StatusCode})
	}

	if res.Error != "" {
		tw.AppendRow(table.Row{"Error", res.Error})
	}

	tw.AppendRow(table.Row{"Remote attempted", res.RemoteAttempted})
	tw.Render()

	return nil
}

func renderProbe(w io.Writer, probe *resolver.ProbeResult) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRow(table.Row{"URL", probe.URL})
	tw.AppendRow(table.Row{"Reachable", probe.Reachable})

	if probe.Method != "" {
		tw.AppendRow(table.Row{"Method", probe.Method})
	}

	if probe.StatusCode != 0 {
		tw.AppendRow(table.Row{"HTTP status", probe.StatusCode})
	}

	if probe.MethodRestricted {
		tw.AppendRow(table.Row{"Note", "answers but rejects HEAD and GET"})
	}

	tw.AppendRow(table.Row{"Latency", probe.Latency.Round(time.Millisecond).String()})

	if probe.Error != "" {
		tw.AppendRow(table.Row{"Error", probe.Error})
	}

	tw.Render()

	return nil
}

func renderProgress(w io.Writer, snapshot *models.PipelineSnapshot) error {
	progress := snapshot.Progress

	_, err := fmt.Fprintf(w, "%s  %s  (agent %s, revision %s, updated %s)\n",
		progress.SubmissionID, progress.TerminalState, orDash(progress.AgentID), orDash(progress.AgentRevisionID),
		humanize.Time(snapshot.UpdatedAt))
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Stage", "Status", "Attempts", "Seq", "Message", "Warnings"})

	for _, stage := range models.StageOrder() {
		sp, ok := progress.Stages[stage]
		if !ok {
			continue
		}

		marker := string(stage)
		if stage == snapshot.Cursor && !progress.IsFinished() {
			marker = "> " + marker
		}

		tw.AppendRow(table.Row{marker, sp.Status, sp.Attempts, sp.LastUpdatedSeq, sp.Message, strings.Join(sp.Warnings, "\n")})
	}

	if score := progress.TrustScore; score != nil {
		tw.AppendFooter(table.Row{
			"Trust score",
			score.AutoDecision,
			fmt.Sprintf("%d/100", score.Total),
			"",
			fmt.Sprintf("security %d, functional %d, judge %d, implementation %d",
				score.Security, score.Functional, score.Judge, score.Implementation),
			"",
		})
	}

	tw.Render()

	if snapshot.Escalation != nil {
		_, err = fmt.Fprintf(w, "awaiting human decision: %s from %s\n", snapshot.Escalation.Reason, snapshot.Escalation.Source)
	}

	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
