package governance

import (
	"context"
	"fmt"
	"strings"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
	"go.uber.org/zap"
	"orderchat.com/pkg/logger"
)

type SentinelCfg struct {
	Enabled bool          `mapstructure:"enabled"`
	Flow    FlowSection   `mapstructure:"flow"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type FlowSection struct {
	Enabled bool       `mapstructure:"enabled"`
	Rules   []FlowRule `mapstructure:"rules"`
}

type FlowRule struct {
	Resource         string  `mapstructure:"resource"` // e.g. "POST:/api/chat/:orderId/message"
	Threshold        float64 `mapstructure:"threshold"`
	StatIntervalMs   uint32  `mapstructure:"stat_interval_ms"`
	Strategy         string  `mapstructure:"strategy"` // direct / warmup
	Control          string  `mapstructure:"control"`  // reject / throttling
	MaxQueueWaitMs   uint32  `mapstructure:"max_queue_wait_ms"`
	WarmUpSec        uint32  `mapstructure:"warmup_sec"`
	WarmUpColdFactor uint32  `mapstructure:"warmup_cold_factor"`
}

type BreakerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Rules   []BreakerRule `mapstructure:"rules"`
}

type BreakerRule struct {
	Resource         string  `mapstructure:"resource"`
	Strategy         string  `mapstructure:"strategy"` // error_ratio / error_count / slow_request_ratio
	Threshold        float64 `mapstructure:"threshold"`
	StatIntervalMs   uint32  `mapstructure:"stat_interval_ms"`
	MinRequestAmount uint64  `mapstructure:"min_request_amount"`
	RetryTimeoutMs   uint32  `mapstructure:"retry_timeout_ms"`
	MaxAllowedRtMs   uint64  `mapstructure:"max_allowed_rt_ms"`
}

// Active reports whether InitSentinel would do anything.
func (sc *SentinelCfg) Active() bool {
	return sc != nil && (sc.Enabled || sc.Flow.Enabled || sc.Breaker.Enabled)
}

// InitSentinel initializes sentinel and loads the configured rules.
// A nil or disabled config is a no-op.
func InitSentinel(sc *SentinelCfg) error {
	if !sc.Active() {
		return nil
	}
	if err := sentinels.InitDefault(); err != nil {
		return fmt.Errorf("init sentinel: %w", err)
	}

	if fr := BuildFlowRules(sc.Flow); len(fr) > 0 {
		if _, err := flow.LoadRules(fr); err != nil {
			return fmt.Errorf("load flow rules: %w", err)
		}
		logger.Info(context.Background(), "sentinel flow rules loaded", zap.Int("count", len(fr)))
	}
	if br := BuildBreakerRules(sc.Breaker); len(br) > 0 {
		if _, err := circuitbreaker.LoadRules(br); err != nil {
			return fmt.Errorf("load circuit breaker rules: %w", err)
		}
		logger.Info(context.Background(), "sentinel breaker rules loaded", zap.Int("count", len(br)))
	}
	return nil
}

func BuildFlowRules(fs FlowSection) []*flow.Rule {
	if !fs.Enabled {
		return nil
	}
	var out []*flow.Rule
	for _, rule := range fs.Rules {
		if rule.Resource == "" {
			continue
		}
		r := &flow.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalInMs: rule.StatIntervalMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "warmup":
			r.TokenCalculateStrategy = flow.WarmUp
			r.WarmUpPeriodSec = rule.WarmUpSec
			r.WarmUpColdFactor = rule.WarmUpColdFactor
		default:
			r.TokenCalculateStrategy = flow.Direct
		}
		switch strings.ToLower(rule.Control) {
		case "throttling":
			r.ControlBehavior = flow.Throttling
			r.MaxQueueingTimeMs = rule.MaxQueueWaitMs
		default:
			r.ControlBehavior = flow.Reject
		}
		out = append(out, r)
	}
	return out
}

func BuildBreakerRules(bc BreakerConfig) []*circuitbreaker.Rule {
	if !bc.Enabled {
		return nil
	}
	var out []*circuitbreaker.Rule
	for _, rule := range bc.Rules {
		if rule.Resource == "" {
			continue
		}
		r := &circuitbreaker.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalMs:   rule.StatIntervalMs,
			MinRequestAmount: rule.MinRequestAmount,
			RetryTimeoutMs:   rule.RetryTimeoutMs,
			MaxAllowedRtMs:   rule.MaxAllowedRtMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "error_count":
			r.Strategy = circuitbreaker.ErrorCount
		case "slow_request_ratio":
			r.Strategy = circuitbreaker.SlowRequestRatio
		default:
			r.Strategy = circuitbreaker.ErrorRatio
		}
		out = append(out, r)
	}
	return out
}
