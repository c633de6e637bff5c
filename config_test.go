package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestFlags(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	flags := pflag.NewFlagSet("defender-report", pflag.ContinueOnError)
	registerFlags(flags)
	require.NoError(t, flags.Parse(args))
	v, err := newViper(flags)
	require.NoError(t, err)
	return v
}

var testNow = time.Date(2025, 6, 13, 16, 20, 0, 0, time.UTC)

func TestOptionsDefaults(t *testing.T) {
	opts, err := optionsFromViper(parseTestFlags(t), testNow)
	require.NoError(t, err)

	assert.Equal(t, defaultInputPath, opts.InputPath)
	assert.Equal(t, defaultOutputPath, opts.OutputPath)
	assert.Equal(t, ".", opts.OutputRoot)
	assert.Equal(t, 7, opts.ThresholdDays)
	assert.Equal(t, time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC), opts.ReportDate)
	assert.Equal(t, "powershell", opts.Directory.Backend)
	assert.Equal(t, defaultADTimeout, opts.ADTimeout)
	assert.Equal(t, 587, opts.SMTP.Port)
	assert.Equal(t, defaultEmailsConfig, opts.EmailsConfig)
	assert.Equal(t, defaultDBSchema, opts.DBSchema)
	assert.False(t, opts.SendEmails)
	assert.False(t, opts.EnrichAD)
}

func TestOptionsFromFlags(t *testing.T) {
	v := parseTestFlags(t,
		"--input-path", "exports/agents.csv",
		"--output-path", "out/master.xlsx",
		"--date", "2025-01-05",
		"--threshold-days", "14",
		"--department", "gpedu,cogta",
		"--enrich-ad",
		"--ad-backend", "ldapsearch",
		"--ldap-host", "dc01:389",
		"--ldap-base-dn", "DC=corp,DC=local",
		"--ad-timeout", "5s",
		"--master-only",
	)
	opts, err := optionsFromViper(v, testNow)
	require.NoError(t, err)

	assert.Equal(t, "exports/agents.csv", opts.InputPath)
	assert.Equal(t, "out", opts.OutputRoot)
	assert.Equal(t, 14, opts.ThresholdDays)
	assert.Equal(t, []string{"gpedu", "cogta"}, opts.Departments)
	assert.Equal(t, "2025-01-05", formatDate(opts.ReportDate))
	assert.True(t, opts.EnrichAD)
	assert.True(t, opts.MasterOnly)
	assert.Equal(t, "ldapsearch", opts.Directory.Backend)
	assert.Equal(t, "dc01:389", opts.Directory.LDAPHost)
	assert.Equal(t, 5*time.Second, opts.ADTimeout)
}

func TestOptionsFromEnvironment(t *testing.T) {
	t.Setenv("DEFENDER_REPORT_THRESHOLD_DAYS", "10")
	t.Setenv("SMTP_SERVER", "smtp.example.org")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("FROM_EMAIL", "av-team@example.org")
	t.Setenv("DEFENDER_REPORT_SMTP_USER", "mailer")

	opts, err := optionsFromViper(parseTestFlags(t), testNow)
	require.NoError(t, err)

	assert.Equal(t, 10, opts.ThresholdDays)
	assert.Equal(t, "smtp.example.org", opts.SMTP.Server)
	assert.Equal(t, 2525, opts.SMTP.Port)
	assert.Equal(t, "av-team@example.org", opts.SMTP.From)
	assert.Equal(t, "mailer", opts.SMTP.User)
}

func TestOptionsValidation(t *testing.T) {
	_, err := optionsFromViper(parseTestFlags(t, "--threshold-days", "-1"), testNow)
	require.ErrorIs(t, err, errInvalidThreshold)

	_, err = optionsFromViper(parseTestFlags(t, "--input-path", "  "), testNow)
	require.ErrorIs(t, err, errInputRequired)

	_, err = optionsFromViper(parseTestFlags(t, "--date", "2025-02-30"), testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --date")
}

func TestLoadEnvironmentReadsDotenvAndConfigFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROM_EMAIL=dotenv@example.org\n"), 0o644))
	configFile := filepath.Join(dir, "report.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("threshold-days: 3\nsheet: Agents\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("FROM_EMAIL") })

	v := parseTestFlags(t, "--config", configFile)
	require.NoError(t, loadEnvironment(v, envFile, filepath.Join(dir, "missing.env")))

	opts, err := optionsFromViper(v, testNow)
	require.NoError(t, err)
	assert.Equal(t, "dotenv@example.org", opts.SMTP.From)
	assert.Equal(t, 3, opts.ThresholdDays)
	assert.Equal(t, "Agents", opts.Sheet)
	assert.Equal(t, configFile, opts.ConfigFile)
}

func TestLoadEnvironmentBadConfigFile(t *testing.T) {
	v := parseTestFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	err := loadEnvironment(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
