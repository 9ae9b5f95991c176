package collector

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"nodestatus/internal/config"
	"nodestatus/internal/logx"
	"nodestatus/internal/metrics"
	"nodestatus/internal/model"
	"nodestatus/internal/stunutil"
)

const (
	systemName = "system"
	// hostCallTimeout bounds each host sub-metric; a hung sysfs read is
	// abandoned rather than waited on.
	hostCallTimeout = 2 * time.Second
)

// cpuTempPreference lists normalized sensor keys in the order they are
// preferred for the headline CPU temperature.
var cpuTempPreference = []string{
	"coretemppackageid0",
	"k10temptctl",
	"cputhermal",
	"x86pkgtemp",
}

var (
	nvmePartition = regexp.MustCompile(`^(.*\d)p\d+$`)
	scsiPartition = regexp.MustCompile(`^(/dev/(?:sd|hd|vd|xvd)[a-z]+)\d+$`)
)

// ProbeFunc discovers public reachability.
type ProbeFunc func(ctx context.Context, servers []string, timeout time.Duration) (model.Reachability, error)

// System reports host metrics. Each sub-metric degrades independently.
type System struct {
	src         HostSource
	probe       ProbeFunc
	stunServers []string
	stunTimeout time.Duration
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewSystem(cfg config.Config, src HostSource, m *metrics.Metrics, log *zap.Logger) *System {
	if src == nil {
		src = GopsutilHost{}
	}
	return &System{
		src:         src,
		probe:       stunutil.Probe,
		stunServers: cfg.STUN.Servers,
		stunTimeout: config.Duration(cfg.STUN.Timeout, 3*time.Second),
		metrics:     m,
		log:         logx.OrNop(log).Named(systemName),
	}
}

// WithProbe replaces the reachability probe.
func (s *System) WithProbe(p ProbeFunc) *System {
	s.probe = p
	return s
}

// Collect always returns Ok; missing sub-metrics are nil and named in
// Problems.
func (s *System) Collect(ctx context.Context) model.Result[model.SystemSnapshot] {
	var snap model.SystemSnapshot
	problem := func(metric string, err error) {
		s.metrics.CollectorFailed(systemName + "." + metric)
		s.log.Warn("sub-metric unavailable", zap.String("metric", metric), zap.Error(err))
		snap.Problems = append(snap.Problems, fmt.Sprintf("%s: %v", metric, err))
	}

	if v, err := within(ctx, s.src.CPUPercent); err != nil {
		problem("cpu_usage", err)
	} else {
		snap.CPUPercent = &v
	}

	if v, err := within(ctx, s.src.MemoryPercent); err != nil {
		problem("memory_usage", err)
	} else {
		snap.MemoryPercent = &v
	}

	if v, err := within(ctx, s.src.CPUInfo); err != nil {
		problem("cpu_info", err)
	} else {
		snap.CPU = &v
	}

	disks, err := s.disks(ctx)
	if err != nil {
		problem("physical_disks_usage", err)
	}
	snap.Disks = disks

	temps, err := within(ctx, s.src.Temperatures)
	if err != nil {
		problem("sensors", err)
	}
	readings := make([]model.SensorReading, 0, len(temps))
	for _, t := range temps {
		readings = append(readings, reading(t))
	}
	snap.CPUTemp = cpuTemp(readings)
	snap.Sensors = composite(readings)

	if len(s.stunServers) > 0 {
		r, err := withinFor(ctx, s.stunTimeout, func(ctx context.Context) (model.Reachability, error) {
			return s.probe(ctx, s.stunServers, s.stunTimeout)
		})
		if err != nil {
			problem("reachability", err)
		} else {
			snap.Reachability = &r
		}
	}

	return model.Ok(snap)
}

// disks sums partitions per physical device. A partition whose usage
// cannot be read is skipped; the error is returned alongside what was read.
func (s *System) disks(ctx context.Context) ([]model.DiskUsage, error) {
	parts, err := within(ctx, s.src.Partitions)
	if err != nil {
		return nil, err
	}

	byDevice := map[string]*model.DiskUsage{}
	seen := map[string]bool{}
	var errs error
	for _, p := range parts {
		p := p
		if strings.Contains(p.Device, "loop") || strings.Contains(p.Device, "ram") {
			continue
		}
		// Bind mounts report the same filesystem more than once.
		if seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		u, err := within(ctx, func(ctx context.Context) (Usage, error) {
			return s.src.Usage(ctx, p.Mountpoint)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Mountpoint, err))
			continue
		}
		dev := physicalDevice(p.Device)
		d, ok := byDevice[dev]
		if !ok {
			d = &model.DiskUsage{Device: dev}
			byDevice[dev] = d
		}
		d.Total += u.Total
		d.Used += u.Used
		d.Free += u.Free
	}

	out := make([]model.DiskUsage, 0, len(byDevice))
	for _, d := range byDevice {
		d.Percent = percent(d.Used, d.Total)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out, errs
}

// physicalDevice strips the partition suffix: /dev/nvme0n1p2 and
// /dev/mmcblk0p1 lose "pN", /dev/sda1 loses "1". Anything else is kept.
func physicalDevice(dev string) string {
	if m := nvmePartition.FindStringSubmatch(dev); m != nil {
		return m[1]
	}
	if m := scsiPartition.FindStringSubmatch(dev); m != nil {
		return m[1]
	}
	return dev
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}

func reading(t Temperature) model.SensorReading {
	chip, label, found := strings.Cut(t.Key, "_")
	if !found {
		label = chip
	}
	return model.SensorReading{Chip: chip, Label: label, Celsius: t.Celsius}
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cpuTemp(readings []model.SensorReading) *model.SensorReading {
	if len(readings) == 0 {
		return nil
	}
	byKey := make(map[string]model.SensorReading, len(readings))
	for _, r := range readings {
		k := normalizeKey(r.Chip + r.Label)
		if _, ok := byKey[k]; !ok {
			byKey[k] = r
		}
	}
	for _, want := range cpuTempPreference {
		if r, ok := byKey[want]; ok {
			return &r
		}
	}
	first := readings[0]
	return &first
}

func composite(readings []model.SensorReading) []model.SensorReading {
	out := []model.SensorReading{}
	for _, r := range readings {
		if strings.Contains(strings.ToLower(r.Label), "composite") {
			out = append(out, r)
		}
	}
	return out
}

// within runs fn with the host call deadline.
func within[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return withinFor(ctx, hostCallTimeout, fn)
}

// withinFor runs fn with deadline d. If fn ignores its context the call is
// abandoned and its eventual result discarded.
func withinFor[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
