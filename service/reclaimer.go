package service

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Reclaimer 负责请求结束和模型驱逐后的内存回收
// 推理后端的显存池随会话销毁释放，见 ModelCache 的驱逐
type Reclaimer struct {
	mu   sync.Mutex
	runs int
}

func NewReclaimer() *Reclaimer {
	return &Reclaimer{}
}

// Reclaim 触发 GC 并归还堆内存给系统
func (r *Reclaimer) Reclaim() model.ReclaimStats {
	start := time.Now()

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	runtime.GC()
	debug.FreeOSMemory()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	var released uint64
	if before.HeapAlloc > after.HeapAlloc {
		released = before.HeapAlloc - after.HeapAlloc
	}

	stats := model.ReclaimStats{
		HeapBefore: before.HeapAlloc,
		HeapAfter:  after.HeapAlloc,
		Released:   humanize.Bytes(released),
		Duration:   time.Since(start),
	}

	utils.Logger.Debug("memory reclaimed",
		zap.String("heap_before", humanize.Bytes(before.HeapAlloc)),
		zap.String("heap_after", humanize.Bytes(after.HeapAlloc)),
		zap.Duration("cost", stats.Duration))

	return stats
}

// Runs 返回回收执行次数
func (r *Reclaimer) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}
