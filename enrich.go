package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const defaultADTimeout = 30 * time.Second

// HostResolver is the part of *net.Resolver used for the IPv4 fallback.
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type EnrichmentStats struct {
	Hosts     int               `json:"hosts"`
	Matched   int               `json:"matched"`
	Unmatched int               `json:"unmatched"`
	Failed    int               `json:"failed"`
	Cached    int               `json:"cached"`
	Misses    []unmatchedDevice `json:"misses,omitempty"`

	results map[string]*ADAttributes
}

type unmatchedDevice struct {
	DeviceName string `json:"device_name"`
	Department string `json:"department"`
	Reason     string `json:"reason"`
}

type Enricher struct {
	lookup   DirectoryLookup
	resolver HostResolver
	cache    *adCache
	timeout  time.Duration
	log      zerolog.Logger
}

func NewEnricher(lookup DirectoryLookup, resolver HostResolver, cache *adCache, timeout time.Duration, log zerolog.Logger) *Enricher {
	if timeout <= 0 {
		timeout = defaultADTimeout
	}
	return &Enricher{
		lookup:   lookup,
		resolver: resolver,
		cache:    cache,
		timeout:  timeout,
		log:      log,
	}
}

// Enrich looks every distinct hostname up once and attaches the result to the
// matching records. A failed or missing lookup leaves that host's AD fields
// empty and does not stop the others.
func (e *Enricher) Enrich(ctx context.Context, records []DeviceRecord) EnrichmentStats {
	hosts := lo.Uniq(lo.FilterMap(records, func(record DeviceRecord, _ int) (string, bool) {
		name := strings.TrimSpace(record.DeviceName)
		return name, name != ""
	}))
	sort.Strings(hosts)

	stats := EnrichmentStats{Hosts: len(hosts), results: make(map[string]*ADAttributes, len(hosts))}
	reasons := map[string]string{}

	for _, host := range hosts {
		if entry, ok := e.cache.get(host); ok {
			stats.Cached++
			if entry.Found {
				stats.Matched++
				attrs := entry.Attributes
				stats.results[host] = &attrs
			} else {
				stats.Unmatched++
				reasons[host] = "not found in directory"
			}
			continue
		}

		attrs, found, err := e.lookupOne(ctx, host)
		switch {
		case err != nil:
			stats.Failed++
			reasons[host] = err.Error()
			e.log.Warn().Err(err).Str("device", host).Msg("AD lookup failed")
		case !found:
			stats.Unmatched++
			reasons[host] = "not found in directory"
			e.cache.put(host, adCacheEntry{Found: false, FetchedAt: time.Now().UTC()})
			e.log.Debug().Str("device", host).Msg("Device not found in AD")
		default:
			if attrs.IPv4Address == "" {
				attrs.IPv4Address = e.resolveIPv4(ctx, host)
			}
			stats.Matched++
			stats.results[host] = &attrs
			e.cache.put(host, adCacheEntry{Found: true, Attributes: attrs, FetchedAt: time.Now().UTC()})
		}
	}

	for i := range records {
		record := &records[i]
		host := strings.TrimSpace(record.DeviceName)
		if attrs, ok := stats.results[host]; ok {
			copied := *attrs
			record.AD = &copied
			continue
		}
		if reason, ok := reasons[host]; ok {
			stats.Misses = append(stats.Misses, unmatchedDevice{
				DeviceName: record.DeviceName,
				Department: record.Department,
				Reason:     reason,
			})
		}
	}

	if err := e.cache.save(); err != nil {
		e.log.Warn().Err(err).Msg("Unable to save AD cache")
	}

	e.log.Info().
		Int("hosts", stats.Hosts).
		Int("matched", stats.Matched).
		Int("unmatched", stats.Unmatched).
		Int("failed", stats.Failed).
		Int("cached", stats.Cached).
		Msg("AD enrichment finished")

	return stats
}

func (e *Enricher) lookupOne(ctx context.Context, host string) (ADAttributes, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.lookup.LookupComputer(ctx, host)
}

// resolveIPv4 covers machines whose AD object carries no address.
func (e *Enricher) resolveIPv4(ctx context.Context, host string) string {
	if e.resolver == nil {
		return "N/A"
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	addrs, err := e.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		e.log.Debug().Err(err).Str("device", host).Msg("DNS fallback failed")
		return "N/A"
	}
	for _, addr := range addrs {
		if ip4 := addr.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "N/A"
}

// writeUnmatched exports devices without AD data as unmatched_devices.csv and .json.
func writeUnmatched(dir string, misses []unmatchedDevice) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(dir, "unmatched_devices.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"device_name", "department", "reason"}); err != nil {
		return err
	}
	for _, miss := range misses {
		if err := writer.Write([]string{miss.DeviceName, miss.Department, miss.Reason}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	if misses == nil {
		misses = []unmatchedDevice{}
	}
	data, err := json.MarshalIndent(misses, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "unmatched_devices.json"), data, 0o644)
}
