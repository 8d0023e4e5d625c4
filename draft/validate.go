package draft

import (
	"math"
	"math/big"
	"strings"
)

// PercentTolerance is the slack allowed around a 100% allocation. User-entered
// splits rarely sum to exactly 100.0 in floating point; the tolerance keeps
// 99.9 and 100.1 blocking while accepting clean thirds and the like.
const PercentTolerance = 0.01

// IsInputValid reports whether the amount parses to a positive number.
func IsInputValid(amount string) bool {
	rat, ok := parseDecimal(amount)
	return ok && rat.Sign() > 0
}

// IsOutputValid requires a non-empty split list with every percentage > 0.
func IsOutputValid(outputs []OutputSplit) bool {
	if len(outputs) == 0 {
		return false
	}
	for _, split := range outputs {
		if split.Percentage <= 0 {
			return false
		}
	}
	return true
}

// TotalPercentage sums the split percentages. The sum may exceed 100; the
// caller decides what to do with it.
func TotalPercentage(outputs []OutputSplit) float64 {
	var total float64
	for _, split := range outputs {
		total += split.Percentage
	}
	return total
}

// PercentagesComplete reports whether the splits allocate exactly 100%
// within PercentTolerance.
func PercentagesComplete(outputs []OutputSplit) bool {
	return math.Abs(TotalPercentage(outputs)-100) <= PercentTolerance
}

// IsBalanceSufficient compares the input amount against the wallet balance.
// Equality is sufficient. An unparseable balance is treated as zero.
func IsBalanceSufficient(amount, balance string) bool {
	need, ok := parseDecimal(amount)
	if !ok || need.Sign() <= 0 {
		return false
	}
	have, ok := parseDecimal(balance)
	if !ok {
		have = new(big.Rat)
	}
	return need.Cmp(have) <= 0
}

// IsConditionComplete reports whether the trigger configuration carries every
// required field. Only the OHLCV trigger has a complete sub-model; the stub
// variants are complete by construction once selected.
func IsConditionComplete(conditionType ConditionType, cond *OHLCVCondition) bool {
	switch conditionType {
	case ConditionOHLCVTrigger:
		if cond == nil {
			return false
		}
		if strings.TrimSpace(cond.Pair) == "" || strings.TrimSpace(cond.Timeframe) == "" {
			return false
		}
		if cond.FirstSource.IsZero() || cond.SecondSource.IsZero() {
			return false
		}
		if cond.TriggerWhen != TriggerAbove && cond.TriggerWhen != TriggerBelow {
			return false
		}
		return true
	case ConditionWalletActivity, ConditionTimeBased, ConditionVolumeTrigger, ConditionMultiToken, ConditionSocialSentiment:
		return true
	default:
		return false
	}
}

func parseDecimal(raw string) (*big.Rat, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, false
	}
	return rat, true
}
