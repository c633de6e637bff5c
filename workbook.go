package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	tableStyle      = "TableStyleMedium16"
	timestampFormat = "yyyy-mm-dd hh:mm"
	percentFormat   = "0.0%"
	dateHeaderColor = "00B0F0"
	maxSheetName    = 31
)

var summaryHeaders = []string{
	"Department", "DeviceCount", "Co-managed", "Intune Managed", "SCCM Managed",
	"Inactive", "Up to Date", "Out of Date", "Unknown", "Compliance",
}

var adHeaders = []string{"LastLogonDate", "OperatingSystem", "IPv4Address", "OUName"}

type legendLine struct {
	text string
	band *complianceBand
}

func bandRef(b complianceBand) *complianceBand { return &b }

var legendLines = []legendLine{
	{text: "Baseline 80%"},
	{text: "≥ 80% (green)", band: bandRef(bandGreen)},
	{text: "70% to 80% (yellow)", band: bandRef(bandYellow)},
	{text: "< 70% (red)", band: bandRef(bandRed)},
}

// reportContent is everything a workbook is rendered from.
type reportContent struct {
	dataset    *Dataset
	order      []string
	groups     map[string][]DeviceRecord
	enriched   bool
	reportDate time.Time
	summaries  []DepartmentSummary
	totals     DepartmentSummary
}

// writeMaster renders every department with records plus the Summary sheet.
func (c reportContent) writeMaster(path string) error {
	book, err := newReportBook()
	if err != nil {
		return err
	}
	defer book.close()

	for _, dept := range c.order {
		records := c.groups[dept]
		if len(records) == 0 {
			continue
		}
		if err := book.addDepartmentSheet(dept, c.dataset, records, c.enriched); err != nil {
			return fmt.Errorf("sheet %s: %w", dept, err)
		}
	}
	if err := book.addSummarySheet(c.reportDate, c.summaries, c.totals); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	return book.save(path, "Defender Agents Report")
}

// writeDepartment renders one department's records next to the shared Summary sheet.
func (c reportContent) writeDepartment(path string, dept string) error {
	book, err := newReportBook()
	if err != nil {
		return err
	}
	defer book.close()

	if err := book.addDepartmentSheet(dept, c.dataset, c.groups[dept], c.enriched); err != nil {
		return fmt.Errorf("sheet %s: %w", dept, err)
	}
	if err := book.addSummarySheet(c.reportDate, c.summaries, c.totals); err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	return book.save(path, fmt.Sprintf("Defender Agents Report - %s", displayName(dept)))
}

type bookStyles struct {
	dateHeader  int
	timestamp   int
	total       int
	legend      int
	compliance  map[complianceBand]int
	legendBand  map[complianceBand]int
	conditional map[complianceBand]int
}

type reportBook struct {
	f      *excelize.File
	styles bookStyles
	sheets int
	tables int
}

func newReportBook() (*reportBook, error) {
	f := excelize.NewFile()
	styles, err := newBookStyles(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create styles: %w", err)
	}
	return &reportBook{f: f, styles: styles}, nil
}

func solidFill(color string) excelize.Fill {
	return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
}

func newBookStyles(f *excelize.File) (bookStyles, error) {
	pct := percentFormat
	stamp := timestampFormat
	styles := bookStyles{
		compliance:  map[complianceBand]int{},
		legendBand:  map[complianceBand]int{},
		conditional: map[complianceBand]int{},
	}

	var err error
	if styles.dateHeader, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12},
		Fill:      solidFill(dateHeaderColor),
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return styles, err
	}
	if styles.timestamp, err = f.NewStyle(&excelize.Style{CustomNumFmt: &stamp}); err != nil {
		return styles, err
	}
	if styles.total, err = f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Border: []excelize.Border{{Type: "top", Color: "000000", Style: 1}},
	}); err != nil {
		return styles, err
	}
	if styles.legend, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "left"},
	}); err != nil {
		return styles, err
	}

	for _, band := range []complianceBand{bandRed, bandYellow, bandGreen} {
		if styles.compliance[band], err = f.NewStyle(&excelize.Style{
			Fill:         solidFill(band.Color()),
			CustomNumFmt: &pct,
		}); err != nil {
			return styles, err
		}
		if styles.legendBand[band], err = f.NewStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Fill:      solidFill(band.Color()),
			Alignment: &excelize.Alignment{Horizontal: "left"},
		}); err != nil {
			return styles, err
		}
		if styles.conditional[band], err = f.NewConditionalStyle(&excelize.Style{
			Fill: solidFill(band.Color()),
		}); err != nil {
			return styles, err
		}
	}
	return styles, nil
}

func sanitizeSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if runes := []rune(name); len(runes) > maxSheetName {
		name = string(runes[:maxSheetName])
	}
	return name
}

func (b *reportBook) addSheet(name string) (string, error) {
	name = sanitizeSheetName(name)
	if b.sheets == 0 {
		if err := b.f.SetSheetName("Sheet1", name); err != nil {
			return "", err
		}
	} else if _, err := b.f.NewSheet(name); err != nil {
		return "", err
	}
	b.sheets++
	return name, nil
}

func (b *reportBook) nextTableName(prefix string) string {
	b.tables++
	return fmt.Sprintf("%s%d", prefix, b.tables)
}

// uniqueHeaders makes table headers non-empty and distinct, which Excel requires.
func uniqueHeaders(headers []string) []string {
	seen := map[string]int{}
	result := make([]string, len(headers))
	for i, header := range headers {
		if strings.TrimSpace(header) == "" {
			header = fmt.Sprintf("Column%d", i+1)
		}
		key := strings.ToLower(header)
		seen[key]++
		if seen[key] > 1 {
			header = fmt.Sprintf("%s %d", header, seen[key])
		}
		result[i] = header
	}
	return result
}

func (b *reportBook) addDepartmentSheet(dept string, dataset *Dataset, records []DeviceRecord, enriched bool) error {
	sheet, err := b.addSheet(dept)
	if err != nil {
		return err
	}

	base := len(dataset.Headers)
	headers := append(append([]string(nil), dataset.Headers...), "Status", "AgeDays")
	if enriched {
		headers = append(headers, adHeaders...)
	}
	headers = uniqueHeaders(headers)

	headerRow := make([]interface{}, len(headers))
	for i, header := range headers {
		headerRow[i] = header
	}
	if err := b.f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return err
	}

	for i, record := range records {
		row := make([]interface{}, len(headers))
		for j := 0; j < base && j < len(record.Fields); j++ {
			row[j] = record.Fields[j]
		}
		if dataset.updatedCol >= 0 && !record.LastUpdate.IsZero() {
			row[dataset.updatedCol] = record.LastUpdate
		}
		row[base] = string(record.Status)
		if record.Status != StatusUnknown {
			row[base+1] = record.AgeDays
		} else {
			row[base+1] = ""
		}
		if enriched {
			fillADCells(row[base+2:], record.AD)
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := b.f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	lastRow := len(records) + 1

	if len(records) > 0 {
		timestampCols := []int{}
		if dataset.updatedCol >= 0 {
			timestampCols = append(timestampCols, dataset.updatedCol+1)
		}
		if enriched {
			timestampCols = append(timestampCols, base+3)
		}
		for _, col := range timestampCols {
			name, err := excelize.ColumnNumberToName(col)
			if err != nil {
				return err
			}
			if err := b.f.SetCellStyle(sheet, name+"2", fmt.Sprintf("%s%d", name, lastRow), b.styles.timestamp); err != nil {
				return err
			}
		}

		stripes := true
		if err := b.f.AddTable(sheet, &excelize.Table{
			Range:          fmt.Sprintf("A1:%s%d", lastCol, lastRow),
			Name:           b.nextTableName("Devices"),
			StyleName:      tableStyle,
			ShowRowStripes: &stripes,
		}); err != nil {
			return err
		}
	}

	return b.f.SetColWidth(sheet, "A", lastCol, 20)
}

func fillADCells(cells []interface{}, attrs *ADAttributes) {
	for i := range cells {
		cells[i] = ""
	}
	if attrs == nil {
		return
	}
	if !attrs.LastLogonDate.IsZero() {
		cells[0] = attrs.LastLogonDate
	}
	cells[1] = attrs.OperatingSystem
	cells[2] = attrs.IPv4Address
	cells[3] = attrs.OUName
}

// dateLabel renders the Summary header date as "5-Jun".
func dateLabel(date time.Time) string {
	return fmt.Sprintf("%d-%s", date.Day(), date.Format("Jan"))
}

func summaryRow(summary DepartmentSummary) []interface{} {
	return []interface{}{
		summary.DisplayName,
		summary.DeviceCount,
		summary.CoManaged,
		summary.Intune,
		summary.SCCM,
		summary.Inactive,
		summary.UpToDate,
		summary.OutOfDate,
		summary.Unknown,
		summary.Compliance / 100,
	}
}

// addSummarySheet lays out the date header in row 1, the summary table from
// row 2, the totals row right under it and the baseline legend below that.
func (b *reportBook) addSummarySheet(date time.Time, summaries []DepartmentSummary, totals DepartmentSummary) error {
	sheet, err := b.addSheet(summarySheet)
	if err != nil {
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(len(summaryHeaders))
	if err != nil {
		return err
	}
	complianceCol := lastCol

	if err := b.f.SetCellValue(sheet, "A1", dateLabel(date)); err != nil {
		return err
	}
	if err := b.f.MergeCell(sheet, "A1", lastCol+"1"); err != nil {
		return err
	}
	if err := b.f.SetCellStyle(sheet, "A1", lastCol+"1", b.styles.dateHeader); err != nil {
		return err
	}

	headerRow := make([]interface{}, len(summaryHeaders))
	for i, header := range summaryHeaders {
		headerRow[i] = header
	}
	if err := b.f.SetSheetRow(sheet, "A2", &headerRow); err != nil {
		return err
	}

	for i, summary := range summaries {
		rowNum := i + 3
		row := summaryRow(summary)
		if err := b.f.SetSheetRow(sheet, fmt.Sprintf("A%d", rowNum), &row); err != nil {
			return err
		}
		cell := fmt.Sprintf("%s%d", complianceCol, rowNum)
		if err := b.f.SetCellStyle(sheet, cell, cell, b.styles.compliance[bandFor(summary.Compliance)]); err != nil {
			return err
		}
	}

	totalRowNum := len(summaries) + 3
	totalRow := summaryRow(totals)
	if err := b.f.SetSheetRow(sheet, fmt.Sprintf("A%d", totalRowNum), &totalRow); err != nil {
		return err
	}
	beforeCompliance, err := excelize.ColumnNumberToName(len(summaryHeaders) - 1)
	if err != nil {
		return err
	}
	if err := b.f.SetCellStyle(sheet, fmt.Sprintf("A%d", totalRowNum), fmt.Sprintf("%s%d", beforeCompliance, totalRowNum), b.styles.total); err != nil {
		return err
	}
	totalCell := fmt.Sprintf("%s%d", complianceCol, totalRowNum)
	if err := b.f.SetCellStyle(sheet, totalCell, totalCell, b.styles.compliance[bandFor(totals.Compliance)]); err != nil {
		return err
	}

	if len(summaries) > 0 {
		lastDataRow := len(summaries) + 2
		stripes := true
		if err := b.f.AddTable(sheet, &excelize.Table{
			Range:          fmt.Sprintf("A2:%s%d", lastCol, lastDataRow),
			Name:           b.nextTableName("Summary"),
			StyleName:      tableStyle,
			ShowRowStripes: &stripes,
		}); err != nil {
			return err
		}
		if err := b.addComplianceRules(sheet, fmt.Sprintf("%s3:%s%d", complianceCol, complianceCol, lastDataRow)); err != nil {
			return err
		}
	}

	legendStart := totalRowNum + 2
	for i, line := range legendLines {
		rowNum := legendStart + i
		first := fmt.Sprintf("A%d", rowNum)
		last := fmt.Sprintf("D%d", rowNum)
		if err := b.f.SetCellValue(sheet, first, line.text); err != nil {
			return err
		}
		if err := b.f.MergeCell(sheet, first, last); err != nil {
			return err
		}
		style := b.styles.legend
		if line.band != nil {
			style = b.styles.legendBand[*line.band]
		}
		if err := b.f.SetCellStyle(sheet, first, last, style); err != nil {
			return err
		}
	}

	if err := b.f.SetColWidth(sheet, "A", "A", 16); err != nil {
		return err
	}
	return b.f.SetColWidth(sheet, "B", lastCol, 14)
}

// addComplianceRules keeps the fills right if someone edits the numbers later.
func (b *reportBook) addComplianceRules(sheet string, rangeRef string) error {
	green := b.styles.conditional[bandGreen]
	yellow := b.styles.conditional[bandYellow]
	red := b.styles.conditional[bandRed]
	return b.f.SetConditionalFormat(sheet, rangeRef, []excelize.ConditionalFormatOptions{
		{Type: "cell", Criteria: ">=", Format: &green, Value: "0.8", StopIfTrue: true},
		{Type: "cell", Criteria: "between", Format: &yellow, MinValue: "0.7", MaxValue: "0.8", StopIfTrue: true},
		{Type: "cell", Criteria: "<", Format: &red, Value: "0.7"},
	})
}

func (b *reportBook) save(path string, title string) error {
	b.f.SetActiveSheet(0)
	if err := b.f.SetDocProps(&excelize.DocProperties{
		Title:   title,
		Creator: "defender-report",
	}); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return b.f.SaveAs(path)
}

func (b *reportBook) close() {
	_ = b.f.Close()
}
