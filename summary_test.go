package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeTalliesChannelsAndStatus(t *testing.T) {
	records := []DeviceRecord{
		{DeviceName: "A", Department: "gpedu", Channel: ChannelCoManaged, Active: true, Status: StatusUpToDate},
		{DeviceName: "B", Department: "gpedu", Channel: ChannelIntune, Active: true, Status: StatusUpToDate},
		{DeviceName: "C", Department: "gpedu", Channel: ChannelSCCM, Active: true, Status: StatusOutOfDate},
		{DeviceName: "D", Department: "gpedu", Channel: ChannelNone, Active: false, Status: StatusUnknown},
		{DeviceName: "E", Department: "cogta", Channel: ChannelIntune, Active: true, Status: StatusUpToDate},
		{DeviceName: "F", Department: ungroupedDepartment, Channel: ChannelSCCM, Active: false, Status: StatusOutOfDate},
	}
	order := []string{"gpedu", "gphealth", "cogta", ungroupedDepartment}

	summaries, totals := summarize(records, order)

	require.Len(t, summaries, 3)
	assert.Equal(t, []string{"gpedu", "cogta", ungroupedDepartment}, []string{
		summaries[0].Department, summaries[1].Department, summaries[2].Department,
	})

	edu := summaries[0]
	assert.Equal(t, DepartmentSummary{
		Department:  "gpedu",
		DisplayName: "EDUCATION",
		DeviceCount: 4,
		CoManaged:   1,
		Intune:      1,
		SCCM:        1,
		Inactive:    1,
		UpToDate:    2,
		OutOfDate:   1,
		Unknown:     1,
		Compliance:  50,
	}, edu)
	assert.Equal(t, edu.DeviceCount, edu.UpToDate+edu.OutOfDate+edu.Unknown)

	assert.Equal(t, 100.0, summaries[1].Compliance)
	assert.Equal(t, 0.0, summaries[2].Compliance)

	assert.Equal(t, totalsLabel, totals.DisplayName)
	assert.Equal(t, 6, totals.DeviceCount)
	assert.Equal(t, 1, totals.CoManaged)
	assert.Equal(t, 2, totals.Intune)
	assert.Equal(t, 2, totals.SCCM)
	assert.Equal(t, 2, totals.Inactive)
	assert.Equal(t, 3, totals.UpToDate)
	assert.Equal(t, 2, totals.OutOfDate)
	assert.Equal(t, 1, totals.Unknown)
	assert.Equal(t, 50.0, totals.Compliance)
}

func TestSummarizeEmpty(t *testing.T) {
	summaries, totals := summarize(nil, []string{"gpedu", ungroupedDepartment})
	assert.Empty(t, summaries)
	assert.Equal(t, 0, totals.DeviceCount)
	assert.Equal(t, 0.0, totals.Compliance)
}

// With a department filter the records are already narrowed to the order.
func TestSummarizeFollowsFilteredOrder(t *testing.T) {
	records := []DeviceRecord{
		{Department: "gpedu", Status: StatusUpToDate},
		{Department: "gifa", Status: StatusUpToDate},
	}
	summaries, totals := summarize(records, []string{"gpedu"})
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, totals.DeviceCount)
}

func TestComplianceRate(t *testing.T) {
	assert.Equal(t, 66.7, complianceRate(2, 3))
	assert.Equal(t, 33.3, complianceRate(1, 3))
	assert.Equal(t, 85.7, complianceRate(6, 7))
	assert.Equal(t, 100.0, complianceRate(5, 5))
	assert.Equal(t, 0.0, complianceRate(0, 0))
}

func TestBandFor(t *testing.T) {
	cases := map[float64]complianceBand{
		100:  bandGreen,
		85:   bandGreen,
		80:   bandGreen,
		79.9: bandYellow,
		75:   bandYellow,
		70:   bandYellow,
		69.9: bandRed,
		50:   bandRed,
		0:    bandRed,
	}
	for rate, want := range cases {
		assert.Equal(t, want, bandFor(rate), "rate %.1f", rate)
	}

	assert.Equal(t, "green", bandGreen.String())
	assert.Equal(t, "00B050", bandGreen.Color())
	assert.Equal(t, "FFFF00", bandYellow.Color())
	assert.Equal(t, "FF0000", bandRed.Color())
}
