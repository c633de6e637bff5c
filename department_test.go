package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDepartmentFromUser(t *testing.T) {
	cases := map[string]string{
		"Alice (GPEDU)":            "gpedu",
		"Bob Smith (gp health)":    "gphealth",
		"Carol (GPDRT - K)":        "gpdrt",
		"Dan (e-Gov)":              "gpegov",
		"Eve (GP-SPORTS)":          "gpsports",
		"Frank (Contractor) (GDE)": "gpedu",
		"Grace (Finance Dept)":     ungroupedDepartment,
		"Heidi":                    ungroupedDepartment,
		"":                         ungroupedDepartment,
		"Ivan (COGTA) extra":       ungroupedDepartment,
	}
	for user, want := range cases {
		assert.Equal(t, want, departmentFromUser(user), user)
	}
}

func TestExtractBracketText(t *testing.T) {
	text, ok := extractBracketText("  Alice (GPEDU)  ")
	require.True(t, ok)
	assert.Equal(t, "gpedu", text)

	_, ok = extractBracketText("Alice")
	assert.False(t, ok)
}

func TestResolveDepartment(t *testing.T) {
	assert.Equal(t, "gpt", resolveDepartment("Treasury"))
	assert.Equal(t, "gifa", resolveDepartment(" gifa "))
	assert.Equal(t, "gpedu", resolveDepartment("GP-EDU"))
	assert.Equal(t, ungroupedDepartment, resolveDepartment(""))
	assert.Equal(t, ungroupedDepartment, resolveDepartment("NASA"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "EDUCATION", displayName("gpedu"))
	assert.Equal(t, "TREASURY", displayName("gpt"))
	assert.Equal(t, ungroupedDepartment, displayName(ungroupedDepartment))
	assert.Equal(t, "custom", displayName("custom"))
	for code, sheet := range departmentSheets {
		assert.Contains(t, displayNames, sheet, code)
	}
}

func TestLoadSheetOrderDefault(t *testing.T) {
	order, err := loadSheetOrder("")
	require.NoError(t, err)
	require.Len(t, order, len(defaultSheetOrder)+1)
	assert.Equal(t, "gpedu", order[0])
	assert.Equal(t, ungroupedDepartment, order[len(order)-1])
}

func TestLoadSheetOrderFromTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Summary"))
	for _, name := range []string{"COGTA", "Ungrouped", "gpedu"} {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	order, err := loadSheetOrder(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cogta", "gpedu", ungroupedDepartment}, order)

	_, err = loadSheetOrder(filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Error(t, err)
}

func TestCompleteOrder(t *testing.T) {
	order := []string{"gpedu", ungroupedDepartment}
	records := []DeviceRecord{
		{Department: "gpedu"},
		{Department: "gphealth"},
		{Department: ungroupedDepartment},
		{Department: "cogta"},
		{Department: "gphealth"},
	}
	assert.Equal(t, []string{"gpedu", "cogta", "gphealth", ungroupedDepartment}, completeOrder(order, records))

	assert.Equal(t, order, completeOrder(order, records[:1]))
}

func TestFilterDepartments(t *testing.T) {
	order, err := loadSheetOrder("")
	require.NoError(t, err)

	filtered, err := filterDepartments(order, []string{"COGTA", " gpedu", "cogta"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cogta", "gpedu"}, filtered)

	all, err := filterDepartments(order, nil)
	require.NoError(t, err)
	assert.Equal(t, order, all)

	_, err = filterDepartments(order, []string{"gpedu", "nasa"})
	require.ErrorIs(t, err, errUnknownDepartment)
	assert.Contains(t, err.Error(), "nasa")
}
