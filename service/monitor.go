package service

import (
	"runtime"
	"time"

	"github.com/TIANLI0/MatteKit/utils"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Measurement 一次被测调用的耗时与堆变化
type Measurement struct {
	Name      string
	Duration  time.Duration
	HeapDelta int64
	HeapAlloc uint64
}

// Measure 包裹一次调用，记录耗时和堆内存变化
func Measure(name string, fn func() error) (Measurement, error) {
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	err := fn()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	m := Measurement{
		Name:      name,
		Duration:  time.Since(start),
		HeapDelta: int64(after.HeapAlloc) - int64(before.HeapAlloc),
		HeapAlloc: after.HeapAlloc,
	}

	utils.Logger.Info("performance",
		zap.String("func", name),
		zap.Duration("duration", m.Duration),
		zap.String("heap_delta", formatDelta(m.HeapDelta)),
		zap.String("heap_total", humanize.Bytes(m.HeapAlloc)),
		zap.Bool("success", err == nil))

	return m, err
}

func formatDelta(delta int64) string {
	if delta < 0 {
		return "-" + humanize.Bytes(uint64(-delta))
	}
	return "+" + humanize.Bytes(uint64(delta))
}
