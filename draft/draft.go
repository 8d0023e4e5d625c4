package draft

import (
	"strings"
	"time"

	"condor/registry"
)

// Platform selects the execution venue for the swap.
type Platform string

const (
	PlatformNone Platform = ""
	PlatformEVM  Platform = "evm"
	PlatformCore Platform = "core"
)

// ParsePlatform normalizes a platform string.
func ParsePlatform(raw string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformEVM:
		return PlatformEVM, true
	case PlatformCore:
		return PlatformCore, true
	default:
		return PlatformNone, false
	}
}

// Step identifies a wizard state. Transitions are strictly forward/backward.
type Step string

const (
	StepPlatformSelect     Step = "platform_select"
	StepPairSelect         Step = "pair_select"
	StepConditionType      Step = "condition_type_select"
	StepConditionConfigure Step = "condition_configure"
	StepReview             Step = "review"
	StepSubmitted          Step = "submitted"
)

var stepOrder = []Step{
	StepPlatformSelect,
	StepPairSelect,
	StepConditionType,
	StepConditionConfigure,
	StepReview,
	StepSubmitted,
}

func stepIndex(step Step) int {
	for i, s := range stepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// ConditionType tags the trigger variant. Only the OHLCV trigger carries a
// complete configuration; the remaining variants are declared so adding
// real support later is additive.
type ConditionType string

const (
	ConditionNone            ConditionType = ""
	ConditionOHLCVTrigger    ConditionType = "ohlcv_trigger"
	ConditionWalletActivity  ConditionType = "wallet_activity"
	ConditionTimeBased       ConditionType = "time_based"
	ConditionVolumeTrigger   ConditionType = "volume_trigger"
	ConditionMultiToken      ConditionType = "multi_token"
	ConditionSocialSentiment ConditionType = "social_sentiment"
)

// ParseConditionType normalizes a condition type string.
func ParseConditionType(raw string) (ConditionType, bool) {
	switch ConditionType(strings.ToLower(strings.TrimSpace(raw))) {
	case ConditionOHLCVTrigger:
		return ConditionOHLCVTrigger, true
	case ConditionWalletActivity:
		return ConditionWalletActivity, true
	case ConditionTimeBased:
		return ConditionTimeBased, true
	case ConditionVolumeTrigger:
		return ConditionVolumeTrigger, true
	case ConditionMultiToken:
		return ConditionMultiToken, true
	case ConditionSocialSentiment:
		return ConditionSocialSentiment, true
	default:
		return ConditionNone, false
	}
}

// TriggerDirection compares the first source against the second.
type TriggerDirection string

const (
	TriggerAbove TriggerDirection = "above"
	TriggerBelow TriggerDirection = "below"
)

// OHLCVFields enumerates the candlestick fields a trigger source may read
// directly. Anything else is treated as an indicator.
var OHLCVFields = map[string]struct{}{
	"open":   {},
	"high":   {},
	"low":    {},
	"close":  {},
	"volume": {},
}

// SourceSpec describes one side of an OHLCV comparison: either a raw
// candlestick field, an indicator with parameters, or a literal value.
type SourceSpec struct {
	Field     string             `json:"field,omitempty"`
	Indicator string             `json:"indicator,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	Value     *float64           `json:"value,omitempty"`
}

// IsZero reports whether the spec is unset.
func (s SourceSpec) IsZero() bool {
	return s.Field == "" && s.Indicator == "" && s.Value == nil
}

// IsLiteral reports whether the spec is a literal comparison value.
func (s SourceSpec) IsLiteral() bool {
	return s.Value != nil && s.Field == "" && s.Indicator == ""
}

// Cooldown delays re-arming of a trigger for a number of bars.
type Cooldown struct {
	Active   bool `json:"active"`
	BarCount int  `json:"bar_count"`
}

// OHLCVCondition is the fully specified trigger configuration.
type OHLCVCondition struct {
	Pair                string           `json:"pair"`
	Timeframe           string           `json:"timeframe"`
	FirstSource         SourceSpec       `json:"first_source"`
	TriggerWhen         TriggerDirection `json:"trigger_when"`
	SecondSource        SourceSpec       `json:"second_source"`
	Cooldown            Cooldown         `json:"cooldown"`
	ChainedConfirmation bool             `json:"chained_confirmation"`
	InvalidationHalt    bool             `json:"invalidation_halt"`
	Lifetime            string           `json:"lifetime"`
}

// OutputSplit allocates a percentage of the input to one output token.
type OutputSplit struct {
	Token      registry.Token `json:"token"`
	Percentage float64        `json:"percentage"`
}

// MaxOutputs caps the split list.
const MaxOutputs = 4

// Draft is the in-progress order specification built across wizard steps.
// It is mutated field by field and either submitted whole or abandoned;
// partial submission does not exist.
type Draft struct {
	Platform      Platform        `json:"platform"`
	InputToken    *registry.Token `json:"input_token,omitempty"`
	InputAmount   string          `json:"input_amount,omitempty"`
	Outputs       []OutputSplit   `json:"outputs"`
	ConditionType ConditionType   `json:"condition_type,omitempty"`
	OHLCV         *OHLCVCondition `json:"ohlcv_condition,omitempty"`
	OrderLifetime string          `json:"order_lifetime,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewDraft returns an empty draft.
func NewDraft(now time.Time) Draft {
	return Draft{Outputs: []OutputSplit{}, CreatedAt: now}
}

// Clone deep-copies the draft so serialized snapshots cannot alias live
// session state.
func (d Draft) Clone() Draft {
	out := d
	if d.InputToken != nil {
		token := *d.InputToken
		out.InputToken = &token
	}
	out.Outputs = append([]OutputSplit{}, d.Outputs...)
	if d.OHLCV != nil {
		cond := *d.OHLCV
		if cond.FirstSource.Params != nil {
			params := make(map[string]float64, len(cond.FirstSource.Params))
			for k, v := range cond.FirstSource.Params {
				params[k] = v
			}
			cond.FirstSource.Params = params
		}
		if cond.SecondSource.Params != nil {
			params := make(map[string]float64, len(cond.SecondSource.Params))
			for k, v := range cond.SecondSource.Params {
				params[k] = v
			}
			cond.SecondSource.Params = params
		}
		if cond.FirstSource.Value != nil {
			v := *cond.FirstSource.Value
			cond.FirstSource.Value = &v
		}
		if cond.SecondSource.Value != nil {
			v := *cond.SecondSource.Value
			cond.SecondSource.Value = &v
		}
		out.OHLCV = &cond
	}
	return out
}
