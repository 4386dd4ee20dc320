// Package aggregator implements C5: the 1 Hz tick that snapshots the
// active set, computes ratios/densities, runs the priority ladder, and
// emits at most one Effect. One task, started once at boot, no
// overlapping ticks — the same single-ticker-goroutine shape the
// teacher's oauth.Manager.Start uses for its periodic refresh loops.
package aggregator

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/Mizuir0/live-reaction-system/internal/store"
	"github.com/Mizuir0/live-reaction-system/internal/types"
	"github.com/Mizuir0/live-reaction-system/internal/wire"
	"github.com/rs/zerolog/log"
)

// TickInterval is the fixed 1 Hz cadence spec.md §4.5 requires.
const TickInterval = 1000 * time.Millisecond

// Persister is the subset of persistence.Store the Aggregator needs.
type Persister interface {
	LogEffect(effect types.Effect) error
}

// Broadcaster is the subset of hub.Hub the Aggregator needs.
type Broadcaster interface {
	Broadcast(frame []byte)
}

// Aggregator owns no sample state of its own; its decisions are purely
// a function of Store contents at tick time (spec.md §3 "Ownership &
// lifecycle"). It keeps only an overrun counter and the last tick's
// idle flag for the debug endpoint.
type Aggregator struct {
	store       *store.Store
	persistence Persister
	hub         Broadcaster

	overruns atomic.Uint64 // tick overrun count, surfaced on /debug/aggregation
	idle     atomic.Bool
}

// New constructs an Aggregator over the given Store, Persistence, and
// Hub. It does not start ticking until Run is called.
func New(st *store.Store, persistence Persister, hub Broadcaster) *Aggregator {
	return &Aggregator{store: st, persistence: persistence, hub: hub}
}

// Run blocks, firing one tick every TickInterval until ctx is
// cancelled. If a tick's work exceeds the interval the next tick skips
// rather than queueing (spec.md §4.5 "No overlapping ticks").
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	var busyUntil time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-ticker.C:
			if fired.Before(busyUntil) {
				// Fired while the previous tick was still running: skip it.
				continue
			}
			a.runTick(fired)
			busyUntil = time.Now()
		}
	}
}

// runTick executes one IDLE→COMPUTE→EMITTED cycle, recovering any
// panic so a single faulty tick can never kill the Aggregator task
// (spec.md §4.5 "Failure semantics").
func (a *Aggregator) runTick(fired time.Time) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("aggregator tick panicked, recovering")
		}
		if elapsed := time.Since(start); elapsed > TickInterval {
			a.overruns.Add(1)
			log.Warn().Dur("elapsed", elapsed).Msg("aggregator tick overran its 1000ms budget")
		}
	}()

	now := fired.UnixMilli()
	active := a.store.SnapshotActive(now)

	if len(active) == 0 {
		a.idle.Store(true)
		return
	}
	a.idle.Store(false)

	ratioState := ratios(active)
	densityEvent := densities(active)

	effectType, intensity, _, ok := decide(ratioState, densityEvent)
	if !ok {
		return
	}

	effect := types.Effect{
		EffectType:   effectType,
		Intensity:    intensity,
		DurationMS:   types.DefaultEffectDurationMS,
		ServerSendMS: now,
		Debug: &types.EffectDebug{
			ActiveUsers:  len(active),
			RatioState:   ratioState,
			DensityEvent: densityEvent,
		},
	}

	// Persist before broadcasting: the decision must survive even if
	// the subsequent broadcast fails (spec.md §4.5 step 6).
	if err := a.persistence.LogEffect(effect); err != nil {
		log.Error().Err(err).Str("effect_type", string(effectType)).Msg("failed to persist effect, broadcasting anyway")
	}

	frame, err := encodeEffectFrame(effect)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode effect frame")
		return
	}
	a.hub.Broadcast(frame)
}

// OverrunCount reports how many ticks have exceeded their 1000ms
// budget so far, for GET /debug/aggregation (§C supplemental).
func (a *Aggregator) OverrunCount() uint64 {
	return a.overruns.Load()
}

// Idle reports whether the most recently completed tick found no
// active users.
func (a *Aggregator) Idle() bool {
	return a.idle.Load()
}

func encodeEffectFrame(effect types.Effect) ([]byte, error) {
	frame := wire.EffectFrame{
		Type:       "effect",
		EffectType: string(effect.EffectType),
		Intensity:  effect.Intensity,
		DurationMS: effect.DurationMS,
		Timestamp:  effect.ServerSendMS,
	}
	if effect.Debug != nil {
		ratioOut := make(map[string]float64, len(effect.Debug.RatioState))
		for k, v := range effect.Debug.RatioState {
			ratioOut[string(k)] = v
		}
		densityOut := make(map[string]float64, len(effect.Debug.DensityEvent))
		for k, v := range effect.Debug.DensityEvent {
			densityOut[string(k)] = v
		}
		frame.Debug = &wire.EffectFrameDebug{
			ActiveUsers:  effect.Debug.ActiveUsers,
			RatioState:   ratioOut,
			DensityEvent: densityOut,
		}
	}
	return json.Marshal(frame)
}
