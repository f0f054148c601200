package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/futbot/gofut/pkg/logger"
)

// Manager 进程退出序列：按注册的相反顺序依次执行各关闭步骤。
// worker 的「先停进新任务、再等在途步骤落库、最后关资源」靠注册
// 顺序表达：资源先注册，运行时后注册，退出时就先停运行时再关资源
type Manager struct {
	mu    sync.Mutex
	hooks []hook
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册一个命名关闭步骤
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown 逆序执行全部关闭步骤（阻塞调用）
// ctx 应带超时；超时后剩余步骤不再执行，避免卡死退出路径
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	if len(hooks) == 0 {
		return
	}
	logger.Infof("开始优雅关闭，共 %d 个步骤", len(hooks))

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if ctx.Err() != nil {
			logger.Warnf("关闭超时，跳过剩余 %d 个步骤", i+1)
			return
		}

		start := time.Now()
		done := make(chan error, 1)
		go func() { done <- h.fn(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("关闭步骤 %s 失败: %v", h.name, err)
			} else {
				logger.Infof("关闭步骤 %s 完成（耗时 %s）", h.name, time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			logger.Warnf("关闭步骤 %s 超时: %v", h.name, ctx.Err())
		}
	}
}
