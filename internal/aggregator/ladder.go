package aggregator

import (
	"github.com/Mizuir0/live-reaction-system/internal/store"
	"github.com/Mizuir0/live-reaction-system/internal/types"
)

// ratios computes ratio_state[s]: the fraction of active users who held
// state s true in any sample of their current window (spec.md §4.5
// step 3 — "in at least one of the last W samples").
func ratios(active map[string]store.ActiveUser) map[types.StateName]float64 {
	out := make(map[types.StateName]float64, len(types.StateNames))
	if len(active) == 0 {
		for _, s := range types.StateNames {
			out[s] = 0
		}
		return out
	}

	for _, s := range types.StateNames {
		count := 0
		for _, user := range active {
			for _, sample := range user.Samples {
				if sample.StateActive(s) {
					count++
					break
				}
			}
		}
		out[s] = float64(count) / float64(len(active))
	}
	return out
}

// densities computes density_event[e]: total occurrences of e across
// every sample in every active user's window, divided by |A|·W
// (spec.md §4.5 step 4 — events per user per second).
func densities(active map[string]store.ActiveUser) map[types.EventName]float64 {
	out := make(map[types.EventName]float64, len(types.EventNames))
	if len(active) == 0 {
		for _, e := range types.EventNames {
			out[e] = 0
		}
		return out
	}

	divisor := float64(len(active) * types.WindowSize)
	for _, e := range types.EventNames {
		total := 0
		for _, user := range active {
			for _, sample := range user.Samples {
				total += sample.EventCount(e)
			}
		}
		out[e] = float64(total) / divisor
	}
	return out
}

// clamp01 clamps v to [0,1]; every emitted intensity passes through
// this after its formula is applied (spec.md §4.5 "Numeric semantics").
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ladderRank names the ten predicates in priority order; decide
// returns the rank that fired alongside the effect (runTick and the
// tests currently discard it).
type ladderRank int

const (
	rankHandUp ladderRank = iota + 1
	rankSurprised
	rankClap
	rankSwayVertical
	rankShakeHead
	rankSwayHorizontal
	rankCheer
	rankNod
	rankSmiling
	rankConcentrating
)

// decide runs the priority ladder (spec.md §4.5 table) top-down and
// returns the first matching effect type, intensity, and rank. ok is
// false if no predicate held (the tick stays idle).
func decide(ratioState map[types.StateName]float64, densityEvent map[types.EventName]float64) (types.EffectType, float64, ladderRank, bool) {
	switch {
	case ratioState[types.StateIsHandUp] >= 0.30:
		return types.EffectCheer, clamp01(ratioState[types.StateIsHandUp]), rankHandUp, true
	case ratioState[types.StateIsSurprised] >= 0.30:
		return types.EffectExcitement, clamp01(ratioState[types.StateIsSurprised]), rankSurprised, true
	case densityEvent[types.EventClap] >= 0.15:
		return types.EffectClappingIcons, clamp01(densityEvent[types.EventClap] / 0.8), rankClap, true
	case densityEvent[types.EventSwayVertical] >= 0.20:
		return types.EffectBounce, clamp01(densityEvent[types.EventSwayVertical]), rankSwayVertical, true
	case densityEvent[types.EventShakeHead] >= 0.20:
		return types.EffectShimmer, clamp01(densityEvent[types.EventShakeHead]), rankShakeHead, true
	case densityEvent[types.EventSwayHorizontal] >= 0.20:
		return types.EffectGroove, clamp01(densityEvent[types.EventSwayHorizontal]), rankSwayHorizontal, true
	case densityEvent[types.EventCheer] >= 0.15:
		return types.EffectWave, clamp01(densityEvent[types.EventCheer] / 0.8), rankCheer, true
	case densityEvent[types.EventNod] >= 0.30:
		return types.EffectWave, clamp01(densityEvent[types.EventNod] / 0.5), rankNod, true
	case ratioState[types.StateIsSmiling] >= 0.35:
		return types.EffectSparkle, clamp01(ratioState[types.StateIsSmiling]), rankSmiling, true
	case ratioState[types.StateIsConcentrating] >= 0.40:
		return types.EffectFocus, clamp01(ratioState[types.StateIsConcentrating]), rankConcentrating, true
	default:
		return "", 0, 0, false
	}
}
