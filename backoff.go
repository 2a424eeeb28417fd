package mqtt

import (
	"math/rand"
	"time"
)

// backoffSequence computes successive reconnect delays by doubling from
// InitialBackoff up to MaxBackoff, then applying +/-Jitter fractional
// variance so that many clients recovering from the same broker outage
// don't retry in lockstep. This is the same doubling-with-cap shape
// vitalvas-mqttv5's default reconnect strategy uses (client.go's backoff *=
// 2, clamped to maxBackoff); no pack repo wraps that in a jitter helper, so
// the jitter step here is written directly against math/rand rather than
// imported.
type backoffSequence struct {
	policy  ReconnectPolicy
	current time.Duration
	rng     *rand.Rand
}

func newBackoffSequence(policy ReconnectPolicy) *backoffSequence {
	return &backoffSequence{policy: policy, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// next returns the delay before the next reconnect attempt and advances the
// sequence. The first call returns InitialBackoff (jittered).
func (b *backoffSequence) next() time.Duration {
	if b.current == 0 {
		b.current = b.policy.InitialBackoff
	} else {
		b.current *= 2
		if b.current > b.policy.MaxBackoff {
			b.current = b.policy.MaxBackoff
		}
	}
	return b.jittered(b.current)
}

func (b *backoffSequence) jittered(d time.Duration) time.Duration {
	if b.policy.Jitter <= 0 {
		return d
	}
	delta := float64(d) * b.policy.Jitter
	offset := (b.rng.Float64()*2 - 1) * delta
	jittered := time.Duration(float64(d) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// reset restarts the sequence from InitialBackoff, called once a reconnect
// attempt succeeds so a later, unrelated drop doesn't inherit the previous
// outage's backed-off delay.
func (b *backoffSequence) reset() {
	b.current = 0
}
