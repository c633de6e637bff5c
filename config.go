package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix            = "DEFENDER_REPORT"
	defaultInputPath     = "DefenderAgents.xlsx"
	defaultOutputPath    = "DefenderAgents_Report.xlsx"
	defaultThresholdDays = 7
	defaultDBSchema      = "defender_report"
	defaultEmailsConfig  = "emails_config.json"
)

var errInputRequired = errors.New("--input-path is required")

type Options struct {
	ConfigFile    string
	InputPath     string
	Sheet         string
	TemplatePath  string
	OutputPath    string
	OutputRoot    string
	ReportDate    time.Time
	ThresholdDays int
	Departments   []string
	MasterOnly    bool
	DryRun        bool

	EnrichAD           bool
	Directory          directoryConfig
	ADTimeout          time.Duration
	ADCache            string
	ClearADCache       bool
	ExportUnmatchedDir string

	SendEmails   bool
	EmailsConfig string
	SMTP         smtpConfig

	JSONPath string
	DB       bool
	DBSchema string
	DBTag    string

	LogFile string
	Verbose bool
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Optional YAML/JSON config file")
	flags.String("input-path", defaultInputPath, "Defender agents export (.xlsx or .csv)")
	flags.String("sheet", "", "Sheet to read from an xlsx export (default: first sheet)")
	flags.String("template-path", "", "Workbook whose sheet names set the department order")
	flags.String("output-path", defaultOutputPath, "Master report path")
	flags.String("output-root", "", "Root folder for department reports (default: master report folder)")
	flags.String("date", "", "Report date YYYY-MM-DD (default: today)")
	flags.Int("threshold-days", defaultThresholdDays, "Days since last signature update before a device is out of date")
	flags.StringSlice("department", nil, "Limit the run to these department codes")
	flags.Bool("master-only", false, "Only write the master report")
	flags.Bool("dry-run", false, "Resolve outputs without writing reports or sending emails")

	flags.Bool("enrich-ad", false, "Enrich devices with Active Directory attributes")
	flags.String("ad-backend", "powershell", "AD lookup backend: powershell or ldapsearch")
	flags.String("ad-binary", "", "Override the AD backend executable")
	flags.Duration("ad-timeout", defaultADTimeout, "Timeout per AD lookup")
	flags.String("ad-cache", "", "JSON file caching AD lookups between runs")
	flags.Bool("clear-ad-cache", false, "Discard the AD cache before querying")
	flags.String("ldap-host", "", "LDAP host:port for the ldapsearch backend")
	flags.String("ldap-base-dn", "", "Search base for the ldapsearch backend")
	flags.String("ldap-bind-dn", "", "Bind DN for the ldapsearch backend")
	flags.String("ldap-password", "", "Bind password for the ldapsearch backend")
	flags.Bool("ldaps", false, "Use ldaps:// for the ldapsearch backend")
	flags.String("export-unmatched-dir", "", "Write unmatched_devices.csv/json to this folder")

	flags.Bool("send-emails", false, "Email each department report")
	flags.String("emails-config", defaultEmailsConfig, "JSON file mapping department code to addresses")
	flags.String("smtp-server", "", "SMTP server")
	flags.Int("smtp-port", 587, "SMTP port")
	flags.String("smtp-user", "", "SMTP user")
	flags.String("smtp-password", "", "SMTP password")
	flags.String("from-email", "", "Sender address")

	flags.String("json", "", "Optional JSON summary output path")
	flags.Bool("db", false, "Store the run in Postgres (requires DEFENDER_REPORT_DB_URL or DATABASE_URL)")
	flags.String("db-schema", defaultDBSchema, "Postgres schema for report tables")
	flags.String("db-tag", "", "Optional label for this run")

	flags.String("log-file", "", "Optional rotating log file")
	flags.Bool("verbose", false, "Enable debug logging")
}

// newViper binds flags, DEFENDER_REPORT_* variables and the SMTP variables the
// .env file usually carries.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	legacy := map[string]string{
		"smtp-server":   "SMTP_SERVER",
		"smtp-port":     "SMTP_PORT",
		"smtp-user":     "SMTP_USER",
		"smtp-password": "SMTP_PASSWORD",
		"from-email":    "FROM_EMAIL",
		"emails-config": "EMAILS_CONFIG",
	}
	for key, env := range legacy {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), env); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// loadEnvironment reads .env (when present) and the optional config file.
func loadEnvironment(v *viper.Viper, envFiles ...string) error {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func optionsFromViper(v *viper.Viper, now time.Time) (Options, error) {
	opts := Options{
		ConfigFile:    v.GetString("config"),
		InputPath:     strings.TrimSpace(v.GetString("input-path")),
		Sheet:         v.GetString("sheet"),
		TemplatePath:  v.GetString("template-path"),
		OutputPath:    v.GetString("output-path"),
		OutputRoot:    v.GetString("output-root"),
		ThresholdDays: v.GetInt("threshold-days"),
		Departments:   v.GetStringSlice("department"),
		MasterOnly:    v.GetBool("master-only"),
		DryRun:        v.GetBool("dry-run"),

		EnrichAD: v.GetBool("enrich-ad"),
		Directory: directoryConfig{
			Backend:  v.GetString("ad-backend"),
			Binary:   v.GetString("ad-binary"),
			LDAPHost: v.GetString("ldap-host"),
			BaseDN:   v.GetString("ldap-base-dn"),
			BindDN:   v.GetString("ldap-bind-dn"),
			Password: v.GetString("ldap-password"),
			UseLDAPS: v.GetBool("ldaps"),
		},
		ADTimeout:          v.GetDuration("ad-timeout"),
		ADCache:            v.GetString("ad-cache"),
		ClearADCache:       v.GetBool("clear-ad-cache"),
		ExportUnmatchedDir: v.GetString("export-unmatched-dir"),

		SendEmails:   v.GetBool("send-emails"),
		EmailsConfig: v.GetString("emails-config"),
		SMTP: smtpConfig{
			Server:   v.GetString("smtp-server"),
			Port:     v.GetInt("smtp-port"),
			User:     v.GetString("smtp-user"),
			Password: v.GetString("smtp-password"),
			From:     v.GetString("from-email"),
		},

		JSONPath: v.GetString("json"),
		DB:       v.GetBool("db"),
		DBSchema: v.GetString("db-schema"),
		DBTag:    v.GetString("db-tag"),

		LogFile: v.GetString("log-file"),
		Verbose: v.GetBool("verbose"),
	}

	if opts.InputPath == "" {
		return opts, errInputRequired
	}
	if opts.ThresholdDays < 0 {
		return opts, errInvalidThreshold
	}

	opts.ReportDate = dateOnly(now)
	if raw := strings.TrimSpace(v.GetString("date")); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid --date: %w", err)
		}
		opts.ReportDate = parsed
	}

	if opts.OutputPath == "" {
		opts.OutputPath = defaultOutputPath
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = filepath.Dir(opts.OutputPath)
	}
	return opts, nil
}
