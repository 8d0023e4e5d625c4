// Package wire maps accepted drafts onto the order-engine wire format.
// Serialization is pure and deterministic; the submission timestamp is the
// only field that varies between runs.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"condor/draft"
)

// Platform labels on the wire differ from the wizard's enum.
const (
	platformHyperEVM  = "hyperevm"
	platformHyperCore = "hypercore"
)

// Payload is the order-creation envelope.
type Payload struct {
	Platform  string    `json:"platform"`
	Wallet    string    `json:"wallet"`
	SwapData  SwapData  `json:"swap_data"`
	OrderData OrderData `json:"order_data"`
	Signature *string   `json:"signature"`
	Time      int64     `json:"time"`
}

// SwapData carries the pair selection. The legacy single-output fields are
// populated from the first split entry for consumers that predate splits.
type SwapData struct {
	InputToken  string   `json:"input_token"`
	InputAmount string   `json:"input_amount"`
	OutputToken string   `json:"output_token"`
	Outputs     []Output `json:"outputs"`
}

// Output allocates a percentage of the input to one token.
type Output struct {
	Token      string  `json:"token"`
	Percentage float64 `json:"percentage"`
}

// OrderData carries the trigger variant. Unselected variants are emitted as
// explicit nulls so the backend's tagged decoding stays additive.
type OrderData struct {
	Type           string        `json:"type"`
	OHLCVTrigger   *OHLCVTrigger `json:"ohlcv_trigger"`
	WalletActivity any           `json:"wallet_activity"`
}

// OHLCVTrigger is the fully specified trigger condition.
type OHLCVTrigger struct {
	Pair                string     `json:"pair"`
	Timeframe           string     `json:"timeframe"`
	FirstSource         SourceSpec `json:"first_source"`
	TriggerWhen         string     `json:"trigger_when"`
	SecondSource        SourceSpec `json:"second_source"`
	Cooldown            Cooldown   `json:"cooldown"`
	ChainedConfirmation bool       `json:"chained_confirmation"`
	InvalidationHalt    bool       `json:"invalidation_halt"`
	Lifetime            string     `json:"lifetime,omitempty"`
}

// SourceSpec tags one side of the comparison. Type is inferred: raw
// candlestick fields are "OHLCV", literal values are "value", anything else
// is "indicators".
type SourceSpec struct {
	Type      string             `json:"type"`
	Field     string             `json:"field,omitempty"`
	Indicator string             `json:"indicator,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	Value     *float64           `json:"value,omitempty"`
}

// Cooldown mirrors the draft cooldown settings.
type Cooldown struct {
	Active   bool `json:"active"`
	BarCount int  `json:"bar_count"`
}

// Build composes the wire payload from a validated draft.
func Build(d draft.Draft, wallet string, now time.Time) (Payload, error) {
	platform, err := platformLabel(d.Platform)
	if err != nil {
		return Payload{}, err
	}
	trimmedWallet := strings.TrimSpace(wallet)
	if trimmedWallet == "" {
		return Payload{}, fmt.Errorf("wallet required")
	}
	if d.InputToken == nil {
		return Payload{}, fmt.Errorf("input token required")
	}
	if len(d.Outputs) == 0 {
		return Payload{}, fmt.Errorf("at least one output required")
	}
	outputs := make([]Output, 0, len(d.Outputs))
	for _, split := range d.Outputs {
		outputs = append(outputs, Output{Token: split.Token.Symbol, Percentage: split.Percentage})
	}
	payload := Payload{
		Platform: platform,
		Wallet:   trimmedWallet,
		SwapData: SwapData{
			InputToken:  d.InputToken.Symbol,
			InputAmount: d.InputAmount,
			OutputToken: outputs[0].Token,
			Outputs:     outputs,
		},
		OrderData: OrderData{Type: string(d.ConditionType)},
		Time:      now.UnixMilli(),
	}
	if d.ConditionType == draft.ConditionOHLCVTrigger {
		if d.OHLCV == nil {
			return Payload{}, fmt.Errorf("ohlcv trigger selected but not configured")
		}
		trigger := &OHLCVTrigger{
			Pair:                d.OHLCV.Pair,
			Timeframe:           d.OHLCV.Timeframe,
			FirstSource:         buildSource(d.OHLCV.FirstSource),
			TriggerWhen:         string(d.OHLCV.TriggerWhen),
			SecondSource:        buildSource(d.OHLCV.SecondSource),
			Cooldown:            Cooldown{Active: d.OHLCV.Cooldown.Active, BarCount: d.OHLCV.Cooldown.BarCount},
			ChainedConfirmation: d.OHLCV.ChainedConfirmation,
			InvalidationHalt:    d.OHLCV.InvalidationHalt,
			Lifetime:            lifetime(d),
		}
		payload.OrderData.OHLCVTrigger = trigger
	}
	return payload, nil
}

// Marshal renders a payload as canonical JSON.
func Marshal(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func lifetime(d draft.Draft) string {
	if d.OHLCV != nil && strings.TrimSpace(d.OHLCV.Lifetime) != "" {
		return strings.TrimSpace(d.OHLCV.Lifetime)
	}
	return strings.TrimSpace(d.OrderLifetime)
}

func platformLabel(p draft.Platform) (string, error) {
	switch p {
	case draft.PlatformEVM:
		return platformHyperEVM, nil
	case draft.PlatformCore:
		return platformHyperCore, nil
	default:
		return "", fmt.Errorf("unknown platform %q", p)
	}
}

func buildSource(spec draft.SourceSpec) SourceSpec {
	if spec.IsLiteral() {
		value := *spec.Value
		return SourceSpec{Type: "value", Value: &value}
	}
	field := strings.ToLower(strings.TrimSpace(spec.Field))
	if _, ok := draft.OHLCVFields[field]; ok {
		return SourceSpec{Type: "OHLCV", Field: field}
	}
	indicator := strings.TrimSpace(spec.Indicator)
	if indicator == "" {
		indicator = field
	}
	out := SourceSpec{Type: "indicators", Indicator: indicator}
	if len(spec.Params) > 0 {
		params := make(map[string]float64, len(spec.Params))
		for k, v := range spec.Params {
			params[k] = v
		}
		out.Params = params
	}
	return out
}
