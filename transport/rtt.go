package transport

import "time"

// rttEstimator implements the Jacobson/Karn recurrence of spec.md
// §4.2, generalized from original_source/transport/protocol.py's
// _update_rtt (TCP-style 0.125/0.25 gains) into the RFC 6298 srtt/
// rttvar form the spec calls for.
type rttEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	rtoMin  time.Duration
	rtoMax  time.Duration
	sampled bool
}

func newRTTEstimator(cfg *Config) *rttEstimator {
	return &rttEstimator{
		rto:    cfg.RTOInitial,
		rtoMin: cfg.RTOMin,
		rtoMax: cfg.RTOMax,
	}
}

// sample folds a fresh RTT measurement into the estimator. Karn's
// rule means callers must never sample from a retransmitted segment.
func (e *rttEstimator) sample(r time.Duration) {
	if !e.sampled {
		e.srtt = r
		e.rttvar = r / 2
		e.sampled = true
	} else {
		diff := e.srtt - r
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = e.rttvar*3/4 + diff/4
		e.srtt = e.srtt*7/8 + r/8
	}
	e.rto = e.clamp(e.srtt + 4*e.rttvar)
}

// backoff doubles the RTO on a retransmission timeout, capped at
// rtoMax (spec.md §4.2 on_timeout).
func (e *rttEstimator) backoff() {
	e.rto = e.clamp(e.rto * 2)
}

func (e *rttEstimator) clamp(d time.Duration) time.Duration {
	if d < e.rtoMin {
		return e.rtoMin
	}
	if d > e.rtoMax {
		return e.rtoMax
	}
	return d
}

func (e *rttEstimator) currentRTO() time.Duration {
	return e.rto
}

func (e *rttEstimator) currentSRTT() time.Duration {
	return e.srtt
}
