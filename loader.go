package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	errUnsupportedInput  = errors.New("unsupported input format")
	errMissingHostColumn = errors.New("missing DeviceName column")
	errEmptyInput        = errors.New("input has no header row")
	errSheetNotFound     = errors.New("sheet not found")
)

var (
	hostAliases       = []string{"DeviceName", "hostname", "computer_name", "device", "machine_name"}
	userAliases       = []string{"UserName", "user", "last_logged_on_user", "logged_on_users"}
	departmentAliases = []string{"Department", "dept", "department_code"}
	updatedAliases    = []string{"LastReportedDateTime", "last_update", "signature_updated", "signature_last_updated", "last_seen", "last_reported"}
	managedAliases    = []string{"_ManagedBy", "ManagedBy", "management_channel", "managed_by"}
	activeAliases     = []string{"Active", "IsActive", "activity", "sensor_health_state", "health_status"}
)

func loadDataset(path string, sheet string) (*Dataset, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbookRows(path, sheet)
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedInput, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	dataset, err := parseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dataset.Path = path
	return dataset, nil
}

func readWorkbookRows(path string, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errEmptyInput
		}
		sheet = sheets[0]
	} else if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, fmt.Errorf("%w: %s", errSheetNotFound, sheet)
	}

	// Raw values keep date cells as serial numbers regardless of their display format.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("unable to read CSV: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func parseRows(rows [][]string) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, errEmptyInput
	}

	headers := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		headers[i] = strings.TrimPrefix(strings.TrimSpace(header), "\ufeff")
	}

	colMap := normalizeHeaders(headers)
	hostIdx, ok := findColumn(colMap, hostAliases)
	if !ok {
		return nil, errMissingHostColumn
	}
	userIdx, _ := findColumn(colMap, userAliases)
	deptIdx, _ := findColumn(colMap, departmentAliases)
	updatedIdx, _ := findColumn(colMap, updatedAliases)
	managedIdx, _ := findColumn(colMap, managedAliases)
	activeIdx, hasActivity := findColumn(colMap, activeAliases)

	dataset := &Dataset{Headers: headers, updatedCol: updatedIdx}

	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}

		record := DeviceRecord{
			DeviceName: getValue(row, hostIdx),
			UserName:   getValue(row, userIdx),
			ManagedBy:  getValue(row, managedIdx),
			Fields:     alignFields(row, len(headers)),
		}
		if record.DeviceName == "" {
			dataset.InvalidRows++
			continue
		}

		if deptIdx >= 0 && getValue(row, deptIdx) != "" {
			record.Department = resolveDepartment(getValue(row, deptIdx))
		} else {
			record.Department = departmentFromUser(record.UserName)
		}

		record.LastUpdateRaw = getValue(row, updatedIdx)
		if parsed, err := parseTimestamp(record.LastUpdateRaw); err == nil {
			record.LastUpdate = parsed
		}

		record.Channel = parseChannel(record.ManagedBy)
		if hasActivity {
			record.Active = parseActive(getValue(row, activeIdx))
		} else {
			record.Active = record.Channel != ChannelNone
		}

		dataset.Records = append(dataset.Records, record)
	}

	return dataset, nil
}

func parseActive(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "false", "no", "n", "0", "inactive", "disabled", "off":
		return false
	default:
		return true
	}
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func alignFields(row []string, width int) []string {
	fields := make([]string, width)
	copy(fields, row)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// parseTimestamp accepts the layouts Defender exports use, plus Excel date serials.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(serial) || math.IsInf(serial, 0) || serial <= 0 {
			return time.Time{}, fmt.Errorf("invalid date serial: %s", value)
		}
		return excelize.ExcelDateToTime(serial, false)
	}
	layouts := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"01-02-2006",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
		time.RFC3339,
		time.RFC3339Nano,
		"1/2/2006 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
		"2 Jan 2006 15:04",
		"Jan 2, 2006 3:04:05 PM",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", value)
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", value)
	}
	return parsed, nil
}

func normalizeHeaders(headers []string) map[string]int {
	result := make(map[string]int, len(headers))
	for idx, header := range headers {
		normalized := normalizeHeader(header)
		if _, exists := result[normalized]; !exists {
			result[normalized] = idx
		}
	}
	return result
}

func normalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

func findColumn(headers map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if idx, ok := headers[normalizeHeader(name)]; ok {
			return idx, true
		}
	}
	return -1, false
}

func getValue(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func dateOnly(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, value.Location())
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format("2006-01-02")
}
