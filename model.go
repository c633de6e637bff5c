package main

import (
	"strings"
	"time"
)

type Status string

const (
	StatusUpToDate  Status = "UpToDate"
	StatusOutOfDate Status = "OutOfDate"
	StatusUnknown   Status = "Unknown"
)

type Channel string

const (
	ChannelNone      Channel = ""
	ChannelCoManaged Channel = "Co-managed"
	ChannelIntune    Channel = "Intune"
	ChannelSCCM      Channel = "SCCM"
)

// parseChannel maps the export's free-text management column onto a single channel.
func parseChannel(value string) Channel {
	value = strings.ToLower(strings.TrimSpace(value))
	switch {
	case value == "":
		return ChannelNone
	case strings.Contains(value, "co-managed"), strings.Contains(value, "comanaged"):
		return ChannelCoManaged
	case strings.Contains(value, "intune"):
		return ChannelIntune
	default:
		return ChannelSCCM
	}
}

type ADAttributes struct {
	LastLogonDate     time.Time `json:"last_logon_date"`
	OperatingSystem   string    `json:"operating_system"`
	IPv4Address       string    `json:"ipv4_address"`
	OUName            string    `json:"ou_name"`
	DistinguishedName string    `json:"distinguished_name"`
}

type DeviceRecord struct {
	DeviceName    string
	UserName      string
	Department    string
	LastUpdateRaw string
	LastUpdate    time.Time
	ManagedBy     string
	Channel       Channel
	Active        bool
	Status        Status
	AgeDays       int
	AD            *ADAttributes

	// Fields holds the raw export cells, aligned with Dataset.Headers.
	Fields []string
}

type Dataset struct {
	Path        string
	Headers     []string
	Records     []DeviceRecord
	InvalidRows int

	updatedCol int
}

type DepartmentSummary struct {
	Department  string  `json:"department"`
	DisplayName string  `json:"display_name"`
	DeviceCount int     `json:"device_count"`
	CoManaged   int     `json:"co_managed"`
	Intune      int     `json:"intune"`
	SCCM        int     `json:"sccm"`
	Inactive    int     `json:"inactive"`
	UpToDate    int     `json:"up_to_date"`
	OutOfDate   int     `json:"out_of_date"`
	Unknown     int     `json:"unknown"`
	Compliance  float64 `json:"compliance"`
}

type reportOutput struct {
	Report     string `json:"report"`
	Department string `json:"department,omitempty"`
	Path       string `json:"path"`
}

type Report struct {
	RunID             string              `json:"run_id"`
	ReportDate        string              `json:"report_date"`
	ThresholdDays     int                 `json:"threshold_days"`
	InputPath         string              `json:"input_path"`
	TotalRows         int                 `json:"total_rows"`
	InvalidRows       int                 `json:"invalid_rows"`
	UnknownTimestamps int                 `json:"unknown_timestamps"`
	Departments       []DepartmentSummary `json:"departments"`
	Totals            DepartmentSummary   `json:"totals"`
	Enrichment        *EnrichmentStats    `json:"enrichment,omitempty"`
	Outputs           []reportOutput      `json:"outputs"`
}
