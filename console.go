package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bandStyles  = map[complianceBand]lipgloss.Style{
		bandGreen:  cellStyle.Foreground(lipgloss.Color("#00B050")),
		bandYellow: cellStyle.Foreground(lipgloss.Color("#FFD700")),
		bandRed:    cellStyle.Foreground(lipgloss.Color("#FF0000")),
	}
)

func complianceCell(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 1, 64) + "%"
}

// printReport writes the department tallies and the written report paths.
func printReport(w io.Writer, report Report) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Defender agents report %s (threshold %d days)", report.ReportDate, report.ThresholdDays)))

	rows := make([][]string, 0, len(report.Departments)+1)
	rates := make([]float64, 0, len(report.Departments)+1)
	for _, entry := range append(append([]DepartmentSummary(nil), report.Departments...), report.Totals) {
		rows = append(rows, []string{
			entry.DisplayName,
			strconv.Itoa(entry.DeviceCount),
			strconv.Itoa(entry.UpToDate),
			strconv.Itoa(entry.OutOfDate),
			strconv.Itoa(entry.Unknown),
			complianceCell(entry.Compliance),
		})
		rates = append(rates, entry.Compliance)
	}

	summary := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Department", "Devices", "Up to Date", "Out of Date", "Unknown", "Compliance").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 5 && row >= 0 && row < len(rates) {
				return bandStyles[bandFor(rates[row])]
			}
			return cellStyle
		})
	fmt.Fprintln(w, summary.Render())

	if report.InvalidRows > 0 || report.UnknownTimestamps > 0 {
		fmt.Fprintf(w, "Rows skipped (no hostname): %d | Unknown signature timestamps: %d\n", report.InvalidRows, report.UnknownTimestamps)
	}
	if report.Enrichment != nil {
		fmt.Fprintf(w, "AD enrichment: %d matched, %d unmatched, %d failed (%d from cache)\n",
			report.Enrichment.Matched, report.Enrichment.Unmatched, report.Enrichment.Failed, report.Enrichment.Cached)
	}

	if len(report.Outputs) == 0 {
		return
	}
	outputs := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Report", "Path").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, output := range report.Outputs {
		outputs.Row(output.Report, output.Path)
	}
	fmt.Fprintln(w, titleStyle.Render("Reports complete"))
	fmt.Fprintln(w, outputs.Render())
}
