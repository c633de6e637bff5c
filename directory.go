package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	errInvalidHostname = errors.New("invalid hostname")
	errUnknownBackend  = errors.New("unknown AD backend")
	errLDAPConfig      = errors.New("ldapsearch backend requires --ldap-host and --ldap-base-dn")
)

var validHostname = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,252}$`)

// DirectoryLookup fetches the AD computer object for one hostname. found is
// false when the directory has no such computer.
type DirectoryLookup interface {
	LookupComputer(ctx context.Context, hostname string) (attrs ADAttributes, found bool, err error)
}

type directoryConfig struct {
	Backend  string
	Binary   string
	LDAPHost string
	BaseDN   string
	BindDN   string
	Password string
	UseLDAPS bool
}

func newDirectoryLookup(cfg directoryConfig, run commandRunner) (DirectoryLookup, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "powershell":
		bin := cfg.Binary
		if bin == "" {
			bin = "powershell"
		}
		return &powershellLookup{bin: bin, run: run}, nil
	case "ldapsearch", "ldap":
		if cfg.LDAPHost == "" || cfg.BaseDN == "" {
			return nil, errLDAPConfig
		}
		bin := cfg.Binary
		if bin == "" {
			bin = "ldapsearch"
		}
		return &ldapLookup{
			bin:      bin,
			host:     cfg.LDAPHost,
			baseDN:   cfg.BaseDN,
			bindDN:   cfg.BindDN,
			password: cfg.Password,
			useLDAPS: cfg.UseLDAPS,
			run:      run,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownBackend, cfg.Backend)
	}
}

func checkHostname(hostname string) error {
	if !validHostname.MatchString(hostname) {
		return fmt.Errorf("%w: %q", errInvalidHostname, hostname)
	}
	return nil
}

// powershellLookup queries AD through the ActiveDirectory module's Get-ADComputer.
type powershellLookup struct {
	bin string
	run commandRunner
}

type psComputer struct {
	Name              string          `json:"Name"`
	LastLogonDate     json.RawMessage `json:"LastLogonDate"`
	OperatingSystem   string          `json:"OperatingSystem"`
	IPv4Address       string          `json:"IPv4Address"`
	DistinguishedName string          `json:"DistinguishedName"`
}

func (p *powershellLookup) LookupComputer(ctx context.Context, hostname string) (ADAttributes, bool, error) {
	if err := checkHostname(hostname); err != nil {
		return ADAttributes{}, false, err
	}

	script := fmt.Sprintf(
		`Get-ADComputer -Filter "Name -eq '%s'" -Properties LastLogonDate,OperatingSystem,IPv4Address,DistinguishedName | `+
			`Select-Object -First 1 Name,LastLogonDate,OperatingSystem,IPv4Address,DistinguishedName | ConvertTo-Json -Compress`,
		hostname)
	res := p.run(ctx, p.bin, "-NoProfile", "-NonInteractive", "-Command", script)
	if res.Err != nil {
		return ADAttributes{}, false, fmt.Errorf("powershell error: %w\nstderr: %s", res.Err, strings.TrimSpace(string(res.Stderr)))
	}
	return parsePowerShellComputer(res.Stdout)
}

func parsePowerShellComputer(out []byte) (ADAttributes, bool, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return ADAttributes{}, false, nil
	}

	var computer psComputer
	if out[0] == '[' {
		var list []psComputer
		if err := json.Unmarshal(out, &list); err != nil {
			return ADAttributes{}, false, fmt.Errorf("invalid JSON from AD query: %w", err)
		}
		if len(list) == 0 {
			return ADAttributes{}, false, nil
		}
		computer = list[0]
	} else if err := json.Unmarshal(out, &computer); err != nil {
		return ADAttributes{}, false, fmt.Errorf("invalid JSON from AD query: %w", err)
	}

	lastLogon, err := parsePowerShellDate(computer.LastLogonDate)
	if err != nil {
		return ADAttributes{}, false, err
	}
	return ADAttributes{
		LastLogonDate:     lastLogon,
		OperatingSystem:   computer.OperatingSystem,
		IPv4Address:       computer.IPv4Address,
		OUName:            parseOU(computer.DistinguishedName),
		DistinguishedName: computer.DistinguishedName,
	}, true, nil
}

var psDatePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// parsePowerShellDate handles both the Windows PowerShell "/Date(ms)/" form and
// the ISO strings PowerShell 7 emits.
func parsePowerShellDate(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, fmt.Errorf("unexpected LastLogonDate %s: %w", raw, err)
	}
	if value == "" {
		return time.Time{}, nil
	}
	if match := psDatePattern.FindStringSubmatch(value); match != nil {
		ms, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return parseTimestamp(value)
}

// ldapLookup shells out to ldapsearch and reads the LDIF it prints.
type ldapLookup struct {
	bin      string
	host     string
	baseDN   string
	bindDN   string
	password string
	useLDAPS bool
	run      commandRunner
}

var ldapAttributes = []string{"cn", "lastLogonTimestamp", "operatingSystem", "dNSHostName", "distinguishedName"}

func (l *ldapLookup) LookupComputer(ctx context.Context, hostname string) (ADAttributes, bool, error) {
	if err := checkHostname(hostname); err != nil {
		return ADAttributes{}, false, err
	}

	scheme := "ldap"
	if l.useLDAPS {
		scheme = "ldaps"
	}
	args := []string{
		"-x", "-LLL",
		"-H", fmt.Sprintf("%s://%s", scheme, l.host),
		"-b", l.baseDN,
		fmt.Sprintf("(&(objectClass=computer)(cn=%s))", hostname),
	}
	if l.bindDN != "" {
		args = append([]string{"-D", l.bindDN, "-w", l.password}, args...)
	}
	args = append(args, ldapAttributes...)

	res := l.run(ctx, l.bin, args...)
	if res.Err != nil {
		return ADAttributes{}, false, fmt.Errorf("ldapsearch error: %w\nstderr: %s", res.Err, strings.TrimSpace(string(res.Stderr)))
	}

	entries := parseLDIF(string(res.Stdout))
	if len(entries) == 0 {
		return ADAttributes{}, false, nil
	}
	entry := entries[0]

	attrs := ADAttributes{
		OperatingSystem:   entry.first("operatingSystem"),
		DistinguishedName: entry.dn,
	}
	if dn := entry.first("distinguishedName"); dn != "" {
		attrs.DistinguishedName = dn
	}
	attrs.OUName = parseOU(attrs.DistinguishedName)
	if raw := entry.first("lastLogonTimestamp"); raw != "" {
		filetime, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ADAttributes{}, false, fmt.Errorf("lastLogonTimestamp %q: %w", raw, err)
		}
		attrs.LastLogonDate = fileTimeToTime(filetime)
	}
	return attrs, true, nil
}

type ldifEntry struct {
	dn    string
	attrs map[string][]string
}

func (e ldifEntry) first(name string) string {
	for key, values := range e.attrs {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// parseLDIF reads the subset of LDIF ldapsearch -LLL prints: folded lines,
// base64 values and blank-line separated entries.
func parseLDIF(raw string) []ldifEntry {
	var entries []ldifEntry
	var lines []string

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, " ") && len(lines) > 0 && lines[len(lines)-1] != "" {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}

	current := ldifEntry{attrs: map[string][]string{}}
	flush := func() {
		if current.dn == "" && len(current.attrs) == 0 {
			return
		}
		entries = append(entries, current)
		current = ldifEntry{attrs: map[string][]string{}}
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := line[idx+1:]
		if strings.HasPrefix(value, ":") {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value[1:]))
			if err != nil {
				continue
			}
			value = string(decoded)
		} else {
			value = strings.TrimSpace(value)
		}
		if strings.EqualFold(key, "dn") {
			current.dn = value
			continue
		}
		current.attrs[key] = append(current.attrs[key], value)
	}
	flush()

	return entries
}

// 100ns intervals between 1601-01-01 and the Unix epoch.
const fileTimeEpochOffset = 116444736000000000

// fileTimeToTime converts a Windows FILETIME. Zero and the "never" sentinel map
// to the zero time.
func fileTimeToTime(filetime int64) time.Time {
	if filetime <= fileTimeEpochOffset || filetime-fileTimeEpochOffset > math.MaxInt64/100 {
		return time.Time{}
	}
	return time.Unix(0, (filetime-fileTimeEpochOffset)*100).UTC()
}

// parseOU returns the first OU component of a distinguished name.
func parseOU(distinguishedName string) string {
	if distinguishedName == "" {
		return "Unknown"
	}
	for _, part := range strings.Split(distinguishedName, ",") {
		part = strings.TrimSpace(part)
		if len(part) > 3 && strings.EqualFold(part[:3], "OU=") {
			return part[3:]
		}
	}
	return "Unknown"
}
