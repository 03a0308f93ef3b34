package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/xerr"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32

	// Closed 状态计数窗口
	Interval time.Duration

	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration

	// 触发熔断条件（两种之一即可）
	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32
}

// Manager hands out one breaker per dependency name.
type Manager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[any]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(defaultRule Rule, perName map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}
	return &Manager{
		m:           make(map[string]*gobreaker.CircuitBreaker[any], 8),
		defaultRule: defaultRule,
		rules:       perName,
	}
}

func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[any] {
	m.mu.RLock()
	cb := m.m[name]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[name]; cb != nil {
		return cb
	}

	rule, ok := m.rules[name]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: rule.MaxRequests,
		Interval:    rule.Interval,
		Timeout:     rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(name, stateLabel(from)).Set(0)
			metrics.CBState.WithLabelValues(name, stateLabel(to)).Set(1)
		},
	}
	cb = gobreaker.NewCircuitBreaker[any](st)
	m.m[name] = cb
	return cb
}

// IsSuccessful 决定哪些错误计入熔断失败：业务可预期的错误不代表依赖不健康
func IsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	// 调用方断开或超时，说明不了下游好坏
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	ce, ok := xerr.As(err)
	if !ok {
		return false
	}
	switch ce.Code {
	case xerr.RequestParamsError,
		xerr.Unauthorized,
		xerr.Forbidden,
		xerr.RecordNotFound:
		return true
	default:
		return false
	}
}

// IsOpen reports whether err is a rejection by an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
