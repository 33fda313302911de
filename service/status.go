package service

import (
	"runtime"
	"time"

	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StatusService 汇总系统状态并定期写日志
type StatusService struct {
	remover   *RemoverService
	maxHeapMB uint64
	cron      *cron.Cron
}

func NewStatusService(remover *RemoverService, maxHeapMB uint64) *StatusService {
	return &StatusService{
		remover:   remover,
		maxHeapMB: maxHeapMB,
	}
}

// Status 返回当前内存、协程和驻留模型
func (s *StatusService) Status() model.SystemStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	canProcess := true
	if s.maxHeapMB > 0 {
		canProcess = ms.HeapAlloc < s.maxHeapMB*1024*1024
	}

	return model.SystemStatus{
		Device:        string(s.remover.Device()),
		HeapAlloc:     humanize.Bytes(ms.HeapAlloc),
		HeapSys:       humanize.Bytes(ms.HeapSys),
		Sys:           humanize.Bytes(ms.Sys),
		NumGC:         ms.NumGC,
		Goroutines:    runtime.NumGoroutine(),
		ResidentModel: s.remover.ResidentModels(),
		CanProcess:    canProcess,
		Timestamp:     time.Now().Unix(),
	}
}

// Start 按 cron 表达式定期记录系统状态，表达式为空时不启动
func (s *StatusService) Start(schedule string) error {
	if schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.logStatus); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop 停止定时任务并等待正在执行的任务结束
func (s *StatusService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *StatusService) logStatus() {
	st := s.Status()
	utils.Logger.Info("system status",
		zap.String("device", st.Device),
		zap.String("heap_alloc", st.HeapAlloc),
		zap.String("sys", st.Sys),
		zap.Int("goroutines", st.Goroutines),
		zap.Any("resident_models", st.ResidentModel),
		zap.Bool("can_process", st.CanProcess))
}
