package main

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

const (
	ungroupedDepartment = "ungrouped"
	summarySheet        = "Summary"
)

var errUnknownDepartment = errors.New("unrecognized department")

// departmentSheets maps official department codes to their sheet names.
var departmentSheets = map[string]string{
	"GPEDU":    "gpedu",
	"GPHEALTH": "gphealth",
	"GPGDED":   "gpgded",
	"GDSD":     "gdsd",
	"GPSPORTS": "gpsports",
	"GDARD":    "gdard",
	"GPT":      "gpt",
	"GPDRT":    "gpdrt",
	"GPEGOV":   "gpegov",
	"GPDID":    "gpdid",
	"GDHUS":    "gdhus",
	"GPDPR":    "gpdpr",
	"GPSAS":    "gpsas",
	"COGTA":    "cogta",
	"GIFA":     "gifa",
}

// defaultSheetOrder is used when no template workbook is supplied.
var defaultSheetOrder = []string{
	"gpedu", "gphealth", "gpgded", "gdsd", "gpsports", "gdard", "gpt", "gpdrt",
	"gpegov", "gpdid", "gdhus", "gpdpr", "gpsas", "cogta", "gifa",
}

// variantCodes catches the spellings users put in their display names.
var variantCodes = map[string]string{
	"gpdrt - k": "GPDRT",
	"gdrt":      "GPDRT",
	"gp health": "GPHEALTH",
	"bgh":       "GPHEALTH",
	"gp edu":    "GPEDU",
	"gde":       "GPEDU",
	"ded":       "GPGDED",
	"e-gov":     "GPEGOV",
	"egov":      "GPEGOV",
	"treasury":  "GPT",
}

var displayNames = map[string]string{
	"gdard":             "AGRIC",
	"cogta":             "COGTA",
	"gpsas":             "COMMSAFETY",
	"gpgded":            "DED",
	"gpdid":             "DID",
	"gpedu":             "EDUCATION",
	"gpegov":            "EGOV",
	"gdhus":             "GDHUS",
	"gphealth":          "HEALTH",
	"gpdpr":             "OOP",
	"gdsd":              "SOCDEV",
	"gpsports":          "SPORTS",
	"gpdrt":             "TRANSPORT",
	"gpt":               "TREASURY",
	"gifa":              "GIFA",
	ungroupedDepartment: ungroupedDepartment,
}

var (
	trailingBracket = regexp.MustCompile(`\(([^)]+)\)\s*$`)
	nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)
)

func displayName(department string) string {
	if name, ok := displayNames[department]; ok {
		return name
	}
	return department
}

// extractBracketText returns the lower-cased text inside the final parentheses,
// e.g. "Bob (GPEDU)" -> "gpedu".
func extractBracketText(userName string) (string, bool) {
	match := trailingBracket.FindStringSubmatch(strings.TrimSpace(userName))
	if match == nil {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(match[1])), true
}

// resolveDepartment turns a raw code, variant or sheet name into a sheet name.
func resolveDepartment(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ungroupedDepartment
	}
	if code, ok := variantCodes[raw]; ok {
		return departmentSheets[code]
	}
	cleaned := strings.ToUpper(nonAlphanumeric.ReplaceAllString(raw, ""))
	if sheet, ok := departmentSheets[cleaned]; ok {
		return sheet
	}
	return ungroupedDepartment
}

func departmentFromUser(userName string) string {
	raw, ok := extractBracketText(userName)
	if !ok {
		return ungroupedDepartment
	}
	return resolveDepartment(raw)
}

// loadSheetOrder returns the department sheet order, taken from the template
// workbook when one is given. The ungrouped sheet always comes last.
func loadSheetOrder(templatePath string) ([]string, error) {
	order := append([]string(nil), defaultSheetOrder...)
	if templatePath != "" {
		f, err := excelize.OpenFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("open template %s: %w", templatePath, err)
		}
		defer f.Close()
		order = lo.Uniq(lo.FilterMap(f.GetSheetList(), func(name string, _ int) (string, bool) {
			name = strings.ToLower(strings.TrimSpace(name))
			return name, name != "" && name != strings.ToLower(summarySheet) && name != ungroupedDepartment
		}))
	}
	return append(order, ungroupedDepartment), nil
}

// completeOrder appends departments that have records but no sheet in order,
// sorted, just ahead of the trailing ungrouped sheet.
func completeOrder(order []string, records []DeviceRecord) []string {
	missing := lo.Uniq(lo.FilterMap(records, func(record DeviceRecord, _ int) (string, bool) {
		return record.Department, !lo.Contains(order, record.Department)
	}))
	if len(missing) == 0 {
		return order
	}
	sort.Strings(missing)
	known := lo.Without(order, ungroupedDepartment)
	return append(append(known, missing...), ungroupedDepartment)
}

// filterDepartments restricts order to the requested departments, keeping the
// requested order.
func filterDepartments(order []string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return order, nil
	}
	requested = lo.Uniq(lo.Map(requested, func(dept string, _ int) string {
		return strings.ToLower(strings.TrimSpace(dept))
	}))
	invalid := lo.Filter(requested, func(dept string, _ int) bool {
		return !lo.Contains(order, dept)
	})
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %s; valid codes are: %s",
			errUnknownDepartment, strings.Join(invalid, ", "), strings.Join(order, ", "))
	}
	return requested, nil
}
