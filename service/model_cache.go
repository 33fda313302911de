package service

import (
	"fmt"
	"sync"

	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ModelHandle 已初始化、可推理的分割模型
type ModelHandle interface {
	ID() model.ModelID
	// Infer 返回带 alpha 的 BGRA 图或普通图，尺寸与输入一致
	Infer(img gocv.Mat) (gocv.Mat, error)
	Close() error
}

// ModelLoader 按标识实例化模型
type ModelLoader interface {
	Load(id model.ModelID) (ModelHandle, error)
}

type residentModel struct {
	handle  ModelHandle
	refs    int
	evicted bool
}

// ModelCache 单驻留模型缓存：任何时刻最多一个槽位非空
type ModelCache struct {
	mu        sync.Mutex
	loader    ModelLoader
	reclaimer *Reclaimer
	slots     map[model.ModelID]*residentModel
	active    model.ModelID
	loads     int
}

func NewModelCache(loader ModelLoader, reclaimer *Reclaimer) *ModelCache {
	slots := make(map[model.ModelID]*residentModel, len(model.KnownModels))
	for _, id := range model.KnownModels {
		slots[id] = nil
	}
	return &ModelCache{
		loader:    loader,
		reclaimer: reclaimer,
		slots:     slots,
	}
}

// ModelLease 一次推理期间持有的模型引用
type ModelLease struct {
	cache *ModelCache
	entry *residentModel
	once  sync.Once
}

func (l *ModelLease) Handle() ModelHandle {
	return l.entry.handle
}

// Release 归还引用；已被驱逐的模型在最后一个引用归还时关闭
func (l *ModelLease) Release() {
	l.once.Do(func() {
		l.cache.mu.Lock()
		defer l.cache.mu.Unlock()

		l.entry.refs--
		if l.entry.evicted && l.entry.refs == 0 {
			l.cache.closeHandle(l.entry.handle)
		}
	})
}

// Acquire 返回 id 对应模型，必要时先驱逐当前驻留模型再加载
func (c *ModelCache) Acquire(id model.ModelID) (*ModelLease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, known := c.slots[id]
	if !known {
		return nil, &ModelLoadError{Model: id, Err: fmt.Errorf("unknown model")}
	}

	if entry == nil {
		if c.active != "" && c.active != id {
			c.evictLocked()
		}

		utils.Logger.Info("loading model", zap.String("model", string(id)))
		handle, err := c.loader.Load(id)
		if err != nil {
			return nil, &ModelLoadError{Model: id, Err: err}
		}

		entry = &residentModel{handle: handle}
		c.slots[id] = entry
		c.active = id
		c.loads++
	}

	entry.refs++
	return &ModelLease{cache: c, entry: entry}, nil
}

// Evict 清空全部槽位
func (c *ModelCache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *ModelCache) evictLocked() {
	evicted := false
	for id, entry := range c.slots {
		if entry == nil {
			continue
		}
		c.slots[id] = nil
		entry.evicted = true
		if entry.refs == 0 {
			c.closeHandle(entry.handle)
		}
		evicted = true
		utils.Logger.Info("model evicted", zap.String("model", string(id)))
	}
	c.active = ""

	if evicted && c.reclaimer != nil {
		c.reclaimer.Reclaim()
	}
}

func (c *ModelCache) closeHandle(handle ModelHandle) {
	if err := handle.Close(); err != nil {
		utils.Logger.Warn("failed to close model",
			zap.String("model", string(handle.ID())),
			zap.Error(err))
	}
}

// Resident 返回当前非空槽位
func (c *ModelCache) Resident() []model.ModelID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []model.ModelID
	for _, id := range model.KnownModels {
		if c.slots[id] != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Loads 返回累计加载次数
func (c *ModelCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
