package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/research-admin/internal/admin"
	"github.com/JakeFAU/research-admin/internal/task"
)

const barWidth = 30

func progressBar(pct float64) string {
	filled := int(pct / 100 * barWidth)
	filled = min(max(filled, 0), barWidth)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

func renderView(w io.Writer, v admin.ProgressView) {
	total := v.TotalItems
	if total == 0 {
		total = v.TotalEstimate
	}
	line := fmt.Sprintf("%s %-9s %s %d/%d (%.1f%%) failed=%d",
		v.TaskID, v.Status, progressBar(v.Percent()), v.ProcessedItems, total, v.Percent(), v.FailedItems)
	if v.CurrentItem != "" {
		line += " current=" + v.CurrentItem
	}
	if v.CancelRequested && !v.Done {
		line += " (cancelling)"
	}
	fmt.Fprintln(w, line)
}

func renderEvent(w io.Writer, evt task.ProgressEvent) {
	line := fmt.Sprintf("%s %-9s %s %d/%d (%.1f%%) failed=%d",
		evt.TaskID, evt.Status, progressBar(evt.Percent()), evt.ProcessedItems, evt.TotalItems, evt.Percent(), evt.FailedItems)
	if evt.CurrentItem != "" {
		line += " current=" + evt.CurrentItem
	}
	fmt.Fprintln(w, line)
}

func renderSummary(w io.Writer, status task.Status, message string, errs []task.ItemError) {
	fmt.Fprintf(w, "finished: %s", status)
	if message != "" {
		fmt.Fprintf(w, " (%s)", message)
	}
	fmt.Fprintln(w)
	for _, e := range errs {
		fmt.Fprintf(w, "  error %s: %s\n", e.ItemID, e.Error)
	}
}
