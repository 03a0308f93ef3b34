package governance

import (
	"testing"

	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFlowRules(t *testing.T) {
	rules := BuildFlowRules(FlowSection{
		Enabled: true,
		Rules: []FlowRule{
			{Resource: "POST:/api/chat/:orderId/message", Threshold: 100, StatIntervalMs: 1000},
			{Resource: "", Threshold: 1},
			{Resource: "GET:/ws", Threshold: 10, Control: "throttling", MaxQueueWaitMs: 500},
		},
	})
	require.Len(t, rules, 2)
	assert.Equal(t, flow.Direct, rules[0].TokenCalculateStrategy)
	assert.Equal(t, flow.Reject, rules[0].ControlBehavior)
	assert.Equal(t, flow.Throttling, rules[1].ControlBehavior)
	assert.Equal(t, uint32(500), rules[1].MaxQueueingTimeMs)
}

func TestBuildFlowRules_Disabled(t *testing.T) {
	assert.Nil(t, BuildFlowRules(FlowSection{Rules: []FlowRule{{Resource: "x", Threshold: 1}}}))
}

func TestBuildBreakerRules(t *testing.T) {
	rules := BuildBreakerRules(BreakerConfig{
		Enabled: true,
		Rules: []BreakerRule{
			{Resource: "a", Strategy: "error_count", Threshold: 5},
			{Resource: "b"},
		},
	})
	require.Len(t, rules, 2)
	assert.Equal(t, circuitbreaker.ErrorCount, rules[0].Strategy)
	assert.Equal(t, circuitbreaker.ErrorRatio, rules[1].Strategy)
}

func TestInitSentinel_NilIsNoop(t *testing.T) {
	assert.NoError(t, InitSentinel(nil))
	assert.NoError(t, InitSentinel(&SentinelCfg{}))
}
