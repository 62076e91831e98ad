package control

import "time"

// gate holds the dispatch flags. It is not safe for concurrent use;
// the Dispatcher guards it with its own mutex.
type gate struct {
	throttle time.Duration
	inFlight bool
	lastSend time.Time
	// epoch advances on every reset. A request carries the epoch it was
	// issued in, and only a request of the current epoch may settle the gate.
	epoch uint64
}

func newGate(throttle time.Duration) gate {
	return gate{throttle: throttle}
}

// admit runs the throttle and in-flight checks in that order.
func (g *gate) admit(now time.Time) Outcome {
	if !g.lastSend.IsZero() && now.Sub(g.lastSend) < g.throttle {
		return OutcomeThrottled
	}
	if g.inFlight {
		return OutcomeBusy
	}
	g.inFlight = true
	g.lastSend = now
	return OutcomeSent
}

// settle clears the in-flight flag for a request of the given epoch.
// It reports false for a request issued before the latest reset.
func (g *gate) settle(epoch uint64) bool {
	if epoch != g.epoch {
		return false
	}
	g.inFlight = false
	return true
}

func (g *gate) reset() {
	g.inFlight = false
	g.lastSend = time.Time{}
	g.epoch++
}
