package step

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler 一个步骤的可执行行为
// 参数在工厂里解码成处理器自己的结构，不在执行期做反射
type Handler interface {
	Execute(ctx context.Context, ec *ExecContext) (*Outcome, error)
}

// GuardDecision 前置守卫的结论
type GuardDecision int

const (
	// GuardPass 放行
	GuardPass GuardDecision = iota
	// GuardSkip 静默跳过本步骤，block 继续
	GuardSkip
	// GuardAbortBlock 中止 block 的剩余步骤（不触发补偿）
	GuardAbortBlock
)

// Guarded 可选接口：有前置守卫的处理器
type Guarded interface {
	Guard(ctx context.Context, ec *ExecContext) (GuardDecision, error)
}

// PostCompleter 可选接口：成功后的钩子
type PostCompleter interface {
	OnComplete(ctx context.Context, ec *ExecContext, out *Outcome)
}

// Factory 处理器工厂：启动时注册，执行期按步骤参数构造处理器实例
type Factory func(args json.RawMessage) (Handler, error)

var (
	handlersMu sync.RWMutex
	handlers   = make(map[string]Factory)
)

// RegisterHandler 注册处理器工厂
// 各生命周期包应该在 init() 中调用（bbgo 风格）
func RegisterHandler(name string, factory Factory) {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	if _, exists := handlers[name]; exists {
		panic(fmt.Errorf("step handler %s already registered", name))
	}
	handlers[name] = factory
}

// NewHandler 按注册名构造处理器
func NewHandler(name string, args json.RawMessage) (Handler, error) {
	handlersMu.RLock()
	factory, exists := handlers[name]
	handlersMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("step handler %s not registered", name)
	}
	return factory(args)
}

// RegisteredHandlers 返回所有已注册的处理器名
func RegisteredHandlers() []string {
	handlersMu.RLock()
	defer handlersMu.RUnlock()

	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	return names
}
