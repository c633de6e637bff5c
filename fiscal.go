package main

import (
	"fmt"
	"path/filepath"
	"time"
)

// FiscalPeriod locates a report date in the April to March financial calendar.
type FiscalPeriod struct {
	Year    string
	Quarter string
	Month   string
	Date    string
}

func fiscalPeriodFor(date time.Time) FiscalPeriod {
	month := date.Month()
	start := date.Year()
	if month < time.April {
		start--
	}

	var quarter string
	switch {
	case month >= time.April && month <= time.June:
		quarter = "Q1"
	case month >= time.July && month <= time.September:
		quarter = "Q2"
	case month >= time.October:
		quarter = "Q3"
	default:
		quarter = "Q4"
	}

	return FiscalPeriod{
		Year:    fmt.Sprintf("%d-%d", start, start+1),
		Quarter: quarter,
		Month:   month.String(),
		Date:    formatDate(date),
	}
}

// Dir is <root>/<department>/<FY>/<Q>/<Month>/<YYYY-MM-DD>.
func (p FiscalPeriod) Dir(root string, department string) string {
	return filepath.Join(root, department, p.Year, p.Quarter, p.Month, p.Date)
}

func departmentReportPath(root string, department string, date time.Time) string {
	period := fiscalPeriodFor(date)
	name := fmt.Sprintf("%s_Report_%s.xlsx", department, period.Date)
	return filepath.Join(period.Dir(root, department), name)
}
