package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookupResult struct {
	attrs ADAttributes
	found bool
	err   error
}

type fakeLookup struct {
	mu      sync.Mutex
	results map[string]fakeLookupResult
	calls   map[string]int
}

func (f *fakeLookup) LookupComputer(_ context.Context, hostname string) (ADAttributes, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[hostname]++
	result := f.results[hostname]
	return result.attrs, result.found, result.err
}

type fakeResolver struct {
	addrs map[string][]net.IPAddr
}

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	addrs, ok := f.addrs[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func enrichFixture() []DeviceRecord {
	return []DeviceRecord{
		{DeviceName: "PC-A", Department: "gpedu"},
		{DeviceName: "PC-B", Department: "gpedu"},
		{DeviceName: "PC-C", Department: "gphealth"},
		{DeviceName: "PC-A", Department: "gpedu"},
		{DeviceName: "PC-D", Department: ungroupedDepartment},
	}
}

func TestEnrichIsolatesFailedLookups(t *testing.T) {
	lookup := &fakeLookup{results: map[string]fakeLookupResult{
		"PC-A": {attrs: ADAttributes{OperatingSystem: "Windows 11", IPv4Address: "10.0.0.1", OUName: "Workstations"}, found: true},
		"PC-B": {err: errors.New("server unavailable")},
		"PC-C": {attrs: ADAttributes{OperatingSystem: "Windows 10", IPv4Address: "10.0.0.3"}, found: true},
	}}
	records := enrichFixture()

	stats := NewEnricher(lookup, nil, nil, time.Second, zerolog.Nop()).Enrich(context.Background(), records)

	assert.Equal(t, 4, stats.Hosts)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Equal(t, 1, lookup.calls["PC-A"])

	require.NotNil(t, records[0].AD)
	assert.Equal(t, "Windows 11", records[0].AD.OperatingSystem)
	require.NotNil(t, records[3].AD)
	assert.Nil(t, records[1].AD)
	require.NotNil(t, records[2].AD)
	assert.Equal(t, "10.0.0.3", records[2].AD.IPv4Address)
	assert.Nil(t, records[4].AD)

	require.Len(t, stats.Misses, 2)
	assert.Equal(t, "PC-B", stats.Misses[0].DeviceName)
	assert.Contains(t, stats.Misses[0].Reason, "server unavailable")
	assert.Equal(t, "PC-D", stats.Misses[1].DeviceName)
	assert.Equal(t, "not found in directory", stats.Misses[1].Reason)
}

func TestEnrichFallsBackToDNS(t *testing.T) {
	lookup := &fakeLookup{results: map[string]fakeLookupResult{
		"PC-A": {attrs: ADAttributes{OUName: "Workstations"}, found: true},
		"PC-C": {attrs: ADAttributes{OUName: "Clinics"}, found: true},
	}}
	resolver := fakeResolver{addrs: map[string][]net.IPAddr{
		"PC-A": {{IP: net.ParseIP("fe80::1")}, {IP: net.ParseIP("10.1.2.3")}},
	}}
	records := []DeviceRecord{{DeviceName: "PC-A"}, {DeviceName: "PC-C"}}

	NewEnricher(lookup, resolver, nil, time.Second, zerolog.Nop()).Enrich(context.Background(), records)

	require.NotNil(t, records[0].AD)
	assert.Equal(t, "10.1.2.3", records[0].AD.IPv4Address)
	require.NotNil(t, records[1].AD)
	assert.Equal(t, "N/A", records[1].AD.IPv4Address)
}

func TestEnrichUsesCacheAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ad_cache.json")
	results := map[string]fakeLookupResult{
		"PC-A": {attrs: ADAttributes{OperatingSystem: "Windows 11", IPv4Address: "10.0.0.1"}, found: true},
		"PC-B": {err: errors.New("timeout")},
		"PC-C": {attrs: ADAttributes{OperatingSystem: "Windows 10", IPv4Address: "10.0.0.3"}, found: true},
	}

	first := &fakeLookup{results: results}
	cache, err := openADCache(path, false)
	require.NoError(t, err)
	NewEnricher(first, nil, cache, time.Second, zerolog.Nop()).Enrich(context.Background(), enrichFixture())
	assert.FileExists(t, path)

	second := &fakeLookup{results: results}
	cache, err = openADCache(path, false)
	require.NoError(t, err)
	records := enrichFixture()
	stats := NewEnricher(second, nil, cache, time.Second, zerolog.Nop()).Enrich(context.Background(), records)

	assert.Equal(t, 3, stats.Cached)
	assert.Equal(t, map[string]int{"PC-B": 1}, second.calls)
	require.NotNil(t, records[0].AD)
	assert.Equal(t, "Windows 11", records[0].AD.OperatingSystem)

	third := &fakeLookup{results: results}
	cache, err = openADCache(path, true)
	require.NoError(t, err)
	NewEnricher(third, nil, cache, time.Second, zerolog.Nop()).Enrich(context.Background(), enrichFixture())
	assert.Len(t, third.calls, 4)
}

func TestEnrichAppliesLookupTimeout(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, _ string) (ADAttributes, bool, error) {
		<-ctx.Done()
		return ADAttributes{}, false, ctx.Err()
	})
	records := []DeviceRecord{{DeviceName: "PC-SLOW"}}

	stats := NewEnricher(lookup, nil, nil, 20*time.Millisecond, zerolog.Nop()).Enrich(context.Background(), records)

	assert.Equal(t, 1, stats.Failed)
	assert.Nil(t, records[0].AD)
}

type lookupFunc func(ctx context.Context, hostname string) (ADAttributes, bool, error)

func (f lookupFunc) LookupComputer(ctx context.Context, hostname string) (ADAttributes, bool, error) {
	return f(ctx, hostname)
}

func TestWriteUnmatched(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	misses := []unmatchedDevice{
		{DeviceName: "PC-B", Department: "gpedu", Reason: "timeout"},
		{DeviceName: "PC-D", Department: ungroupedDepartment, Reason: "not found in directory"},
	}

	require.NoError(t, writeUnmatched(dir, misses))

	csvData, err := os.ReadFile(filepath.Join(dir, "unmatched_devices.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "device_name,department,reason", lines[0])
	assert.Equal(t, "PC-B,gpedu,timeout", lines[1])

	jsonData, err := os.ReadFile(filepath.Join(dir, "unmatched_devices.json"))
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"device_name": "PC-D"`)
}

func TestWriteUnmatchedEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeUnmatched(dir, nil))

	jsonData, err := os.ReadFile(filepath.Join(dir, "unmatched_devices.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(jsonData))
}
