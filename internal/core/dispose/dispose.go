// Package dispose 提供统一的资源生命周期管理
// 服务通过嵌入 ServiceBase 获得上下文和有序清理能力
package dispose

import (
	"context"
	"fmt"
	"sync"

	"craftlobby-core/internal/core/log"
)

// Disposable 统一的资源释放接口
type Disposable interface {
	Dispose() error
}

// ResourceBase 资源管理结构体
type ResourceBase struct {
	mu            sync.Mutex
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	cleanHandlers []func() error
}

// Ctx 获取关联的上下文
func (c *ResourceBase) Ctx() context.Context {
	return c.ctx
}

// IsClosed 是否已关闭
func (c *ResourceBase) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetCtx 设置上下文和清理回调
func (c *ResourceBase) SetCtx(parent context.Context, onClose func() error) {
	if c.ctx != nil {
		log.Warn("dispose: ctx already set")
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(parent)
	if onClose != nil {
		c.AddCleanHandler(onClose)
	}
}

// AddCleanHandler 添加清理处理器，按添加顺序执行
func (c *ResourceBase) AddCleanHandler(handler func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanHandlers = append(c.cleanHandlers, handler)
}

// Close 关闭并执行所有清理处理器
// 单个处理器失败不会中断其他清理，返回第一个错误
func (c *ResourceBase) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	handlers := make([]func() error, len(c.cleanHandlers))
	copy(handlers, c.cleanHandlers)
	c.mu.Unlock()

	var firstErr error
	for i, handler := range handlers {
		if err := handler(); err != nil {
			log.Errorf("dispose: cleanup handler[%d] failed: %v", i, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup handler[%d] failed: %w", i, err)
			}
		}
	}
	return firstErr
}

// ServiceBase 标准服务基类
type ServiceBase struct {
	ResourceBase
	name string
}

// NewService 创建标准服务基类
func NewService(name string, parentCtx context.Context) *ServiceBase {
	s := &ServiceBase{name: name}
	s.SetCtx(parentCtx, func() error {
		log.Infof("%s: resources cleaned up", name)
		return nil
	})
	return s
}

// GetName 获取服务名称
func (s *ServiceBase) GetName() string {
	return s.name
}

// Dispose 实现 Disposable 接口
func (s *ServiceBase) Dispose() error {
	return s.Close()
}
