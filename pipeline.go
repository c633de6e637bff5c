package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// runtimeDeps holds the collaborators a run talks to outside the process.
type runtimeDeps struct {
	log      zerolog.Logger
	lookup   DirectoryLookup
	resolver HostResolver
	sender   reportSender
}

// runPipeline loads, enriches, classifies and tallies the export, then writes
// every report. Output files are independent: a failed file is logged and the
// rest are still attempted; the joined error lists every failure.
func runPipeline(ctx context.Context, opts Options, deps runtimeDeps) (Report, error) {
	log := deps.log
	report := Report{
		RunID:         uuid.New().String(),
		ReportDate:    formatDate(opts.ReportDate),
		ThresholdDays: opts.ThresholdDays,
		InputPath:     opts.InputPath,
	}

	dataset, err := loadDataset(opts.InputPath, opts.Sheet)
	if err != nil {
		return report, err
	}
	log.Info().Int("rows", len(dataset.Records)).Int("invalid", dataset.InvalidRows).Str("input", opts.InputPath).Msg("Loaded export")

	order, err := loadSheetOrder(opts.TemplatePath)
	if err != nil {
		return report, err
	}
	if len(opts.Departments) > 0 {
		order, err = filterDepartments(order, opts.Departments)
		if err != nil {
			return report, err
		}
		dataset.Records = lo.Filter(dataset.Records, func(record DeviceRecord, _ int) bool {
			return lo.Contains(order, record.Department)
		})
		log.Info().Strs("departments", order).Msg("Limiting report to departments")
	} else {
		order = completeOrder(order, dataset.Records)
	}
	report.TotalRows = len(dataset.Records)
	report.InvalidRows = dataset.InvalidRows

	if opts.EnrichAD {
		stats, err := enrichRecords(ctx, opts, deps, dataset.Records)
		if err != nil {
			log.Warn().Err(err).Msg("AD enrichment unavailable; continuing without it")
		} else {
			report.Enrichment = &stats
		}
	}

	report.UnknownTimestamps = classifyRecords(log, dataset.Records, opts.ReportDate, opts.ThresholdDays)
	report.Departments, report.Totals = summarize(dataset.Records, order)

	content := reportContent{
		dataset:    dataset,
		order:      order,
		groups:     groupByDepartment(dataset.Records),
		enriched:   report.Enrichment != nil,
		reportDate: opts.ReportDate,
		summaries:  report.Departments,
		totals:     report.Totals,
	}

	var errs []error
	write := func(kind string, dept string, path string, render func() error) {
		if opts.DryRun {
			log.Info().Str("report", kind).Str("path", path).Msg("Dry run; not writing")
			return
		}
		if err := render(); err != nil {
			log.Error().Err(err).Str("report", kind).Str("path", path).Msg("Failed to write report")
			errs = append(errs, fmt.Errorf("%s report %s: %w", kind, path, err))
			return
		}
		report.Outputs = append(report.Outputs, reportOutput{Report: kind, Department: dept, Path: path})
		log.Info().Str("report", kind).Str("path", path).Msg("Report written")
	}

	write("Master", "", opts.OutputPath, func() error {
		return content.writeMaster(opts.OutputPath)
	})

	if opts.MasterOnly {
		log.Info().Msg("Skipping department reports (--master-only)")
	} else {
		for _, summary := range report.Departments {
			dept := summary.Department
			path := departmentReportPath(opts.OutputRoot, dept, opts.ReportDate)
			write(displayName(dept), dept, path, func() error {
				return content.writeDepartment(path, dept)
			})
		}
	}

	if opts.SendEmails && !opts.DryRun {
		if err := sendReportEmails(ctx, opts, deps, report.Outputs); err != nil {
			log.Error().Err(err).Msg("Email delivery skipped")
		}
	}

	if opts.JSONPath != "" && !opts.DryRun {
		if err := writeJSON(report, opts.JSONPath); err != nil {
			errs = append(errs, fmt.Errorf("json summary %s: %w", opts.JSONPath, err))
		} else {
			log.Info().Str("path", opts.JSONPath).Msg("JSON summary written")
		}
	}

	if opts.DB && !opts.DryRun {
		runID, err := storeReportInDB(ctx, report, DBConfig{URL: dbURLFromEnv(), Schema: opts.DBSchema, Tag: opts.DBTag})
		if err != nil {
			errs = append(errs, fmt.Errorf("store run: %w", err))
		} else {
			log.Info().Str("run_id", runID).Msg("Stored report run in Postgres")
		}
	}

	return report, errors.Join(errs...)
}

func enrichRecords(ctx context.Context, opts Options, deps runtimeDeps, records []DeviceRecord) (EnrichmentStats, error) {
	lookup := deps.lookup
	if lookup == nil {
		var err error
		lookup, err = newDirectoryLookup(opts.Directory, runCommand)
		if err != nil {
			return EnrichmentStats{}, err
		}
	}

	var cache *adCache
	if opts.ADCache != "" {
		var err error
		cache, err = openADCache(opts.ADCache, opts.ClearADCache)
		if err != nil {
			return EnrichmentStats{}, err
		}
	}

	deps.log.Info().Str("backend", opts.Directory.Backend).Msg("Running AD enrichment")
	stats := NewEnricher(lookup, deps.resolver, cache, opts.ADTimeout, deps.log).Enrich(ctx, records)

	if opts.ExportUnmatchedDir != "" && !opts.DryRun {
		if err := writeUnmatched(opts.ExportUnmatchedDir, stats.Misses); err != nil {
			deps.log.Warn().Err(err).Str("dir", opts.ExportUnmatchedDir).Msg("Unable to export unmatched devices")
		}
	}
	return stats, nil
}

func sendReportEmails(ctx context.Context, opts Options, deps runtimeDeps, outputs []reportOutput) error {
	recipients, err := loadRecipients(opts.EmailsConfig)
	if err != nil {
		return err
	}
	sender := deps.sender
	if sender == nil {
		smtp, err := newSMTPSender(opts.SMTP, opts.ReportDate)
		if err != nil {
			return err
		}
		sender = smtp
	}
	sent := dispatchEmails(ctx, deps.log, sender, recipients, outputs)
	deps.log.Info().Int("sent", sent).Msg("Email delivery finished")
	return nil
}

func writeJSON(report Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
