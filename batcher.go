package main

//---------------- Input Batcher ----------------

// navAccumulator coalesces directional steps inside one rolling window.
// Deltas are signed step counts; the window start is pinned by the first
// event and not extended by followers.
type navAccumulator struct {
	active        bool
	windowStartTs uint32
	deltaX        int16
	deltaY        int16
	forced        bool
}

// trigAccumulator coalesces analog trigger levels. Intensity is a level,
// not a delta, so last-write-wins per side within the window.
type trigAccumulator struct {
	active        bool
	windowStartTs uint32
	leftValue     int16
	rightValue    int16
	leftPending   bool
	rightPending  bool
	forced        bool
}

// InputBatcher turns the raw sample stream into something the display
// can keep up with: immediate classes pass straight through a FIFO,
// continuous classes collapse to one aggregate per batch window.
type InputBatcher struct {
	windowMs  uint32
	nowFn     func() uint32
	immediate []InputAction
	nav       navAccumulator
	trig      trigAccumulator
}

// NewInputBatcher builds a batcher with the given window in ms. nowFn
// may be nil, in which case the process monotonic clock is used.
func NewInputBatcher(windowMs uint32, nowFn func() uint32) *InputBatcher {
	if windowMs == 0 {
		windowMs = 50
	}
	if nowFn == nil {
		nowFn = monotonicMs
	}
	return &InputBatcher{
		windowMs:  windowMs,
		nowFn:     nowFn,
		immediate: make([]InputAction, 0, 8),
	}
}

// Submit feeds one raw action into the batcher.
func (b *InputBatcher) Submit(a InputAction) {
	switch {
	case a.Kind == ActionNone:
		return
	case isImmediate(a.Kind):
		b.immediate = append(b.immediate, a)
	case a.Kind == ActionNav:
		if !b.nav.active {
			b.nav.active = true
			b.nav.windowStartTs = a.Timestamp
			b.nav.deltaX = 0
			b.nav.deltaY = 0
		}
		// one discrete step per submitted event, whatever the raw axis said
		b.nav.deltaX += clampStep(a.DX)
		b.nav.deltaY += clampStep(a.DY)
	case a.Kind == ActionTrigger:
		if !b.trig.active {
			b.trig.active = true
			b.trig.windowStartTs = a.Timestamp
		}
		if a.Code == TriggerLeft {
			b.trig.leftValue = a.Intensity
			b.trig.leftPending = true
		} else {
			b.trig.rightValue = a.Intensity
			b.trig.rightPending = true
		}
	}
}

// Poll returns the next deliverable action, or NoAction. Ordering is the
// latency contract: immediates always first, then an expired navigation
// aggregate, then expired trigger aggregates one side at a time.
func (b *InputBatcher) Poll() InputAction {
	if len(b.immediate) > 0 {
		a := b.immediate[0]
		b.immediate = b.immediate[1:]
		if len(b.immediate) == 0 {
			b.immediate = b.immediate[:0]
		}
		return a
	}

	now := b.nowFn()

	if b.nav.active && (b.nav.forced || now-b.nav.windowStartTs >= b.windowMs) {
		a := InputAction{
			Kind:      ActionNav,
			DX:        b.nav.deltaX,
			DY:        b.nav.deltaY,
			Timestamp: now,
		}
		b.nav = navAccumulator{}
		metricBatchedEmits.Inc()
		return a
	}

	if b.trig.active && (b.trig.forced || now-b.trig.windowStartTs >= b.windowMs) {
		if b.trig.leftPending && b.trig.leftValue != 0 {
			a := InputAction{Kind: ActionTrigger, Code: TriggerLeft, Intensity: b.trig.leftValue, Timestamp: now}
			b.trig.leftPending = false
			if !b.trig.rightPending || b.trig.rightValue == 0 {
				b.trig = trigAccumulator{}
			}
			metricBatchedEmits.Inc()
			return a
		}
		if b.trig.rightPending && b.trig.rightValue != 0 {
			a := InputAction{Kind: ActionTrigger, Code: TriggerRight, Intensity: b.trig.rightValue, Timestamp: now}
			b.trig = trigAccumulator{}
			metricBatchedEmits.Inc()
			return a
		}
		// window expired with nothing worth emitting
		b.trig = trigAccumulator{}
	}

	return NoAction
}

// HasPending reports whether anything would eventually come out of Poll.
func (b *InputBatcher) HasPending() bool {
	return len(b.immediate) > 0 || b.nav.active || b.trig.active
}

// Flush forces pending aggregates to materialize on the next Poll calls
// regardless of elapsed time. Used before a screen transition so stale
// batched motion cannot leak into the next screen.
func (b *InputBatcher) Flush() {
	if b.nav.active {
		b.nav.forced = true
	}
	if b.trig.active {
		b.trig.forced = true
	}
}

// Clear discards all pending state without emitting. Used on controller
// disconnect.
func (b *InputBatcher) Clear() {
	b.immediate = b.immediate[:0]
	b.nav = navAccumulator{}
	b.trig = trigAccumulator{}
}

func clampStep(v int16) int16 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
