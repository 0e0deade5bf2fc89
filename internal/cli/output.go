package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/gotune/pkg/model"
)

// printStatus writes the progress block shared by run and status.
func printStatus(w io.Writer, st *model.Status, run *model.Run) {
	if run != nil {
		fmt.Fprintf(w, "Run:      %s (%s)\n", run.ID, run.Name)
		fmt.Fprintf(w, "  Metric:   %s (%s)\n", run.Metric, run.Mode)
	} else if st.RunID != "" {
		fmt.Fprintf(w, "Run:      %s\n", st.RunID)
	}
	fmt.Fprintf(w, "  Sampled:  %s/%s", humanize.Comma(int64(st.Sampled)), humanize.Comma(int64(st.NumSamples)))
	if st.SamplingDone && st.Sampled < st.NumSamples {
		fmt.Fprint(w, " (sampler exhausted)")
	}
	fmt.Fprintln(w)

	state := "running"
	if st.Finished {
		state = "finished"
	}
	fmt.Fprintf(w, "  State:    %s\n", state)
	fmt.Fprintf(w, "  Trials:   %s\n", trialCounts(st.Trials))

	if b := st.Best; b != nil {
		fmt.Fprintf(w, "  Best:     %s %s at resource %d\n", b.TrialID, formatMetric(b.Metric), b.Resource)
		fmt.Fprintf(w, "  Config:   %s\n", formatConfig(b.Config))
	}
}

func trialCounts(s model.TrialSummary) string {
	parts := []string{fmt.Sprintf("%d total", s.Total)}
	for _, c := range []struct {
		n    int
		name string
	}{
		{s.Running, "running"},
		{s.Paused, "paused"},
		{s.Completed, "completed"},
		{s.Stopped, "stopped"},
		{s.Pending, "pending"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.name))
		}
	}
	return strings.Join(parts, ", ")
}

// formatConfig renders a config as k=v pairs in key order.
func formatConfig(c model.Config) string {
	parts := make([]string, 0, len(c))
	for _, k := range c.Keys() {
		parts = append(parts, k+"="+c[k].String())
	}
	return strings.Join(parts, " ")
}

func formatMetric(m float64) string {
	return humanize.FormatFloat("#,###.####", m)
}

// ago renders a time relative to now, or "-" when unset.
func ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func printTrialTable(w io.Writer, trials []*model.Trial) {
	fmt.Fprintf(w, "%-12s  %-10s  %-7s  %-4s  %-8s  %-12s  %s\n", "ID", "STATE", "BRACKET", "RUNG", "RESOURCE", "METRIC", "STARTED")
	fmt.Fprintf(w, "%-12s  %-10s  %-7s  %-4s  %-8s  %-12s  %s\n", "--", "-----", "-------", "----", "--------", "------", "-------")
	for _, t := range trials {
		metric := "-"
		if o := t.LastObservation(); o != nil {
			metric = formatMetric(o.Metric)
		}
		fmt.Fprintf(w, "%-12s  %-10s  %-7d  %-4d  %-8d  %-12s  %s\n",
			t.ID, t.State, t.Bracket, t.Rung, t.Resource, metric, ago(t.StartedAt))
	}
}
