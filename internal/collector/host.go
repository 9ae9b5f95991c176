package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"nodestatus/internal/model"
)

// Partition is a mounted filesystem and the device backing it.
type Partition struct {
	Device     string
	Mountpoint string
}

// Usage is the capacity of one mounted filesystem in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// Temperature is one raw sensor reading. Key is "<chip>_<label>".
type Temperature struct {
	Key     string
	Celsius float64
}

// HostSource reads host metrics. Temperatures may return readings together
// with an error when only some chips failed.
type HostSource interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	CPUInfo(ctx context.Context) (model.CPUInfo, error)
	Partitions(ctx context.Context) ([]Partition, error)
	Usage(ctx context.Context, mountpoint string) (Usage, error)
	Temperatures(ctx context.Context) ([]Temperature, error)
}

// GopsutilHost reads the local machine.
type GopsutilHost struct{}

var _ HostSource = GopsutilHost{}

// CPUPercent samples since the previous call instead of blocking for an
// interval, so the first call after start may read 0.
func (GopsutilHost) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

func (GopsutilHost) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (GopsutilHost) CPUInfo(ctx context.Context) (model.CPUInfo, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return model.CPUInfo{}, err
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return model.CPUInfo{}, err
	}
	out := model.CPUInfo{Cores: cores}
	if len(infos) > 0 {
		out.ModelName = infos[0].ModelName
		out.Vendor = infos[0].VendorID
		out.MHz = infos[0].Mhz
	}
	return out, nil
}

func (GopsutilHost) Partitions(ctx context.Context) ([]Partition, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]Partition, 0, len(parts))
	for _, p := range parts {
		out = append(out, Partition{Device: p.Device, Mountpoint: p.Mountpoint})
	}
	return out, nil
}

func (GopsutilHost) Usage(ctx context.Context, mountpoint string) (Usage, error) {
	u, err := disk.UsageWithContext(ctx, mountpoint)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Total: u.Total, Used: u.Used, Free: u.Free}, nil
}

func (GopsutilHost) Temperatures(ctx context.Context) ([]Temperature, error) {
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	out := make([]Temperature, 0, len(stats))
	for _, s := range stats {
		out = append(out, Temperature{Key: s.SensorKey, Celsius: s.Temperature})
	}
	return out, err
}
