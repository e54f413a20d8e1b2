package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.opentelemetry.io/otel"
)

// InstrumentPerfStats records process and host gauges every interval until
// ctx ends.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	meter := otel.Meter("ratecheck/perf_stats")
	cpuGauge, _ := meter.Float64Gauge("cpu_usage")
	hostMemGauge, _ := meter.Float64Gauge("host_memory_used_percent")
	memoryGauge, _ := meter.Int64Gauge("allocated_mb")
	goroutineGauge, _ := meter.Int64Gauge("goroutine_count")

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				if usage, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(usage) > 0 {
					cpuGauge.Record(ctx, usage[0])
				} else if err != nil {
					slog.Debug("failed to read cpu usage", "err", err)
				}
				if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
					hostMemGauge.Record(ctx, vm.UsedPercent)
				}
				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
