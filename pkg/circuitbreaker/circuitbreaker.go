package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State 表示熔断器状态
type State int

const (
	StateClosed   State = iota // 关闭：正常状态，允许请求通过
	StateOpen                  // 打开：熔断状态，直接拒绝请求
	StateHalfOpen              // 半开：尝试恢复，允许少量请求通过
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	Name string
	// 失败阈值：连续失败多少次后打开熔断器
	FailureThreshold int
	// 成功阈值：半开状态下成功多少次后关闭熔断器
	SuccessThreshold int
	// 超时时间：打开状态持续多久后进入半开状态
	Timeout time.Duration
	// 半开状态下的最大请求数
	HalfOpenMaxRequests int
	// IsFailure 判断错误是否计入失败；nil 表示所有非取消错误都计入
	IsFailure func(err error) bool
	// OnStateChange 状态变化回调（在锁外调用）
	OnStateChange func(name string, from, to State)
	// 测试用时钟
	Now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:                "default",
		FailureThreshold:    5,                // 连续失败5次后打开
		SuccessThreshold:    2,                // 半开状态下成功2次后关闭
		Timeout:             30 * time.Second, // 打开状态持续30秒
		HalfOpenMaxRequests: 3,                // 半开状态下最多允许3个请求
	}
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	config Config

	state         State
	failureCount  int
	successCount  int
	halfOpenCount int
	lastStateTime time.Time

	mu sync.Mutex
}

type transition struct {
	from, to State
}

// NewCircuitBreaker 创建新的熔断器
func NewCircuitBreaker(config Config) *CircuitBreaker {
	d := DefaultConfig()
	if config.Name == "" {
		config.Name = d.Name
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = d.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = d.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{
		config:        config,
		state:         StateClosed,
		lastStateTime: config.Now(),
	}
}

// Execute 执行函数，带熔断保护
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cb.mu.Lock()
	changes := cb.checkStateTransition()
	switch cb.state {
	case StateOpen:
		cb.mu.Unlock()
		cb.notify(changes)
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			cb.mu.Unlock()
			cb.notify(changes)
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenCount++
	}
	cb.mu.Unlock()
	cb.notify(changes)

	err := fn(ctx)

	cb.mu.Lock()
	if err != nil && cb.countsAsFailure(err) {
		changes = cb.onFailure()
	} else {
		changes = cb.onSuccess()
	}
	cb.mu.Unlock()
	cb.notify(changes)

	return err
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

// checkStateTransition 打开状态超时后进入半开
func (cb *CircuitBreaker) checkStateTransition() []transition {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastStateTime) >= cb.config.Timeout {
		cb.halfOpenCount = 0
		cb.successCount = 0
		return []transition{cb.setState(StateHalfOpen)}
	}
	return nil
}

// onFailure 处理失败
func (cb *CircuitBreaker) onFailure() []transition {
	cb.failureCount++
	switch cb.state {
	case StateHalfOpen:
		// 半开状态下失败，立即打开
		cb.halfOpenCount = 0
		return []transition{cb.setState(StateOpen)}
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			return []transition{cb.setState(StateOpen)}
		}
	}
	return nil
}

// onSuccess 处理成功
func (cb *CircuitBreaker) onSuccess() []transition {
	cb.failureCount = 0
	if cb.state != StateHalfOpen {
		return nil
	}
	cb.successCount++
	cb.halfOpenCount--
	if cb.successCount >= cb.config.SuccessThreshold {
		return []transition{cb.setState(StateClosed)}
	}
	return nil
}

func (cb *CircuitBreaker) setState(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	cb.lastStateTime = cb.config.Now()
	return t
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range changes {
		cb.config.OnStateChange(cb.config.Name, t.from, t.to)
	}
}

// GetState 获取当前状态（线程安全）
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCount = 0
	cb.lastStateTime = cb.config.Now()
}

// 错误定义
var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)
