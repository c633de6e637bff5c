package main

import (
	"math"

	"github.com/samber/lo"
)

const totalsLabel = "Total"

type complianceBand int

const (
	bandRed complianceBand = iota
	bandYellow
	bandGreen
)

const (
	greenBaseline  = 80.0
	yellowBaseline = 70.0
)

func bandFor(rate float64) complianceBand {
	switch {
	case rate >= greenBaseline:
		return bandGreen
	case rate >= yellowBaseline:
		return bandYellow
	default:
		return bandRed
	}
}

func (b complianceBand) String() string {
	switch b {
	case bandGreen:
		return "green"
	case bandYellow:
		return "yellow"
	default:
		return "red"
	}
}

// Color is the fill colour used for the band in the workbook.
func (b complianceBand) Color() string {
	switch b {
	case bandGreen:
		return "00B050"
	case bandYellow:
		return "FFFF00"
	default:
		return "FF0000"
	}
}

// summarize tallies records per department in sheet order. Departments without
// devices produce no row. The second return value is the totals row.
func summarize(records []DeviceRecord, order []string) ([]DepartmentSummary, DepartmentSummary) {
	groups := groupByDepartment(records)

	summaries := make([]DepartmentSummary, 0, len(groups))
	for _, dept := range order {
		entries := groups[dept]
		if len(entries) == 0 {
			continue
		}
		summaries = append(summaries, tally(dept, entries))
	}

	totals := DepartmentSummary{Department: totalsLabel, DisplayName: totalsLabel}
	for _, summary := range summaries {
		totals.DeviceCount += summary.DeviceCount
		totals.CoManaged += summary.CoManaged
		totals.Intune += summary.Intune
		totals.SCCM += summary.SCCM
		totals.Inactive += summary.Inactive
		totals.UpToDate += summary.UpToDate
		totals.OutOfDate += summary.OutOfDate
		totals.Unknown += summary.Unknown
	}
	totals.Compliance = complianceRate(totals.UpToDate, totals.DeviceCount)

	return summaries, totals
}

func tally(dept string, records []DeviceRecord) DepartmentSummary {
	summary := DepartmentSummary{
		Department:  dept,
		DisplayName: displayName(dept),
		DeviceCount: len(records),
	}
	for _, record := range records {
		switch record.Channel {
		case ChannelCoManaged:
			summary.CoManaged++
		case ChannelIntune:
			summary.Intune++
		case ChannelSCCM:
			summary.SCCM++
		}
		if !record.Active {
			summary.Inactive++
		}
		switch record.Status {
		case StatusUpToDate:
			summary.UpToDate++
		case StatusOutOfDate:
			summary.OutOfDate++
		default:
			summary.Unknown++
		}
	}
	summary.Compliance = complianceRate(summary.UpToDate, summary.DeviceCount)
	return summary
}

// complianceRate is the up-to-date percentage rounded to one decimal.
func complianceRate(upToDate int, devices int) float64 {
	if devices == 0 {
		return 0
	}
	return round1(float64(upToDate) / float64(devices) * 100)
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

func groupByDepartment(records []DeviceRecord) map[string][]DeviceRecord {
	return lo.GroupBy(records, func(record DeviceRecord) string {
		return record.Department
	})
}
