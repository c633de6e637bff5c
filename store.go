package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type DBConfig struct {
	URL    string
	Schema string
	Tag    string
}

var validSchema = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func dbURLFromEnv() string {
	if value := strings.TrimSpace(os.Getenv("DEFENDER_REPORT_DB_URL")); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

func sanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	if !validSchema.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

// storeReportInDB records the run and its department rows in one transaction.
func storeReportInDB(ctx context.Context, report Report, cfg DBConfig) (string, error) {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return "", err
	}
	if cfg.URL == "" {
		return "", errors.New("database URL missing; set DEFENDER_REPORT_DB_URL or DATABASE_URL")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return "", err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return "", err
	}
	if err := ensureSchema(ctx, db, schema); err != nil {
		return "", err
	}
	return storeReportTx(ctx, db, report, schema, cfg.Tag)
}

func storeReportTx(ctx context.Context, db *sql.DB, report Report, schema string, tag string) (string, error) {
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		runID = uuid.New()
	}
	reportDate, err := parseDate(report.ReportDate)
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.report_runs (
			id, report_date, threshold_days, input_path, total_rows,
			invalid_rows, unknown_timestamps, device_count, up_to_date,
			out_of_date, compliance, run_tag
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,
			$10,$11,$12
		)`, schema),
		runID,
		reportDate,
		report.ThresholdDays,
		report.InputPath,
		report.TotalRows,
		report.InvalidRows,
		report.UnknownTimestamps,
		report.Totals.DeviceCount,
		report.Totals.UpToDate,
		report.Totals.OutOfDate,
		report.Totals.Compliance,
		nullString(tag),
	)
	if err != nil {
		_ = tx.Rollback()
		return "", err
	}

	insertDepartmentSQL := fmt.Sprintf(`
		INSERT INTO %s.department_summaries (
			id, run_id, department, display_name, device_count, co_managed,
			intune, sccm, inactive, up_to_date, out_of_date, unknown, compliance
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10,$11,$12,$13
		)`, schema)

	for _, entry := range report.Departments {
		_, err = tx.ExecContext(ctx, insertDepartmentSQL,
			uuid.New(),
			runID,
			entry.Department,
			entry.DisplayName,
			entry.DeviceCount,
			entry.CoManaged,
			entry.Intune,
			entry.SCCM,
			entry.Inactive,
			entry.UpToDate,
			entry.OutOfDate,
			entry.Unknown,
			entry.Compliance,
		)
		if err != nil {
			_ = tx.Rollback()
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID.String(), nil
}

func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.report_runs (
			id uuid PRIMARY KEY,
			report_date date NOT NULL,
			threshold_days integer NOT NULL,
			input_path text NOT NULL,
			total_rows integer NOT NULL,
			invalid_rows integer NOT NULL,
			unknown_timestamps integer NOT NULL,
			device_count integer NOT NULL,
			up_to_date integer NOT NULL,
			out_of_date integer NOT NULL,
			compliance numeric(5,1) NOT NULL,
			run_tag text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.department_summaries (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.report_runs(id) ON DELETE CASCADE,
			department text NOT NULL,
			display_name text NOT NULL,
			device_count integer NOT NULL,
			co_managed integer NOT NULL,
			intune integer NOT NULL,
			sccm integer NOT NULL,
			inactive integer NOT NULL,
			up_to_date integer NOT NULL,
			out_of_date integer NOT NULL,
			unknown integer NOT NULL,
			compliance numeric(5,1) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_department_summaries_run_idx ON %s.department_summaries (run_id)`, schema, schema))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_report_runs_date_idx ON %s.report_runs (report_date)`, schema, schema))
	return err
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// initDatabase creates the schema and tables without recording a run.
func initDatabase(ctx context.Context, cfg DBConfig) error {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return err
	}
	if cfg.URL == "" {
		return errors.New("database URL missing; set DEFENDER_REPORT_DB_URL or DATABASE_URL")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 12*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return ensureSchema(ctx, db, schema)
}
