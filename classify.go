package main

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var errInvalidThreshold = errors.New("threshold days must not be negative")

// classify labels a signature timestamp against the report date. A device is
// up to date when its age in whole days is at most thresholdDays.
func classify(lastUpdate time.Time, reportDate time.Time, thresholdDays int) (Status, int) {
	if lastUpdate.IsZero() {
		return StatusUnknown, 0
	}
	age := daysBetween(lastUpdate, reportDate)
	if age <= thresholdDays {
		return StatusUpToDate, age
	}
	return StatusOutOfDate, age
}

// daysBetween counts calendar days from earlier to later; future timestamps count as zero.
func daysBetween(earlier time.Time, later time.Time) int {
	from := time.Date(earlier.Year(), earlier.Month(), earlier.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(later.Year(), later.Month(), later.Day(), 0, 0, 0, 0, time.UTC)
	if from.After(to) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

// classifyRecords sets Status and AgeDays on every record and returns how many
// had no usable timestamp.
func classifyRecords(log zerolog.Logger, records []DeviceRecord, reportDate time.Time, thresholdDays int) int {
	unknown := 0
	for i := range records {
		record := &records[i]
		record.Status, record.AgeDays = classify(record.LastUpdate, reportDate, thresholdDays)
		if record.Status == StatusUnknown {
			unknown++
			log.Warn().
				Str("device", record.DeviceName).
				Str("department", record.Department).
				Str("value", record.LastUpdateRaw).
				Msg("Missing or unparseable signature timestamp")
		}
	}
	return unknown
}
