package mqtt

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dialer opens a fresh Transport for one connection attempt. The Supervisor
// never constructs a Transport itself -- TCP/TLS/WebSocket bring-up is the
// caller's concern (spec §1, §6) -- it only calls Dialer and frames whatever
// comes back.
type Dialer func(ctx context.Context) (Transport, error)

// Supervisor is the Connection Supervisor of spec §4.5: it owns the
// connect/reconnect lifecycle, keep-alive scheduling, and dead-connection
// detection, and is the only component that calls Dialer or closes a
// Framer. It drives one Engine across however many Framer lifetimes a
// reconnect sequence produces.
type Supervisor struct {
	cfg    ClientConfig
	dial   Dialer
	engine *Engine
	log    *zap.Logger

	backoff *backoffSequence

	readerDone chan struct{}
	readErr    error

	ready     chan error
	readyOnce sync.Once
}

// NewSupervisor builds a Supervisor that dials via dial and drives engine.
func NewSupervisor(cfg ClientConfig, dial Dialer, engine *Engine) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		dial:    dial,
		engine:  engine,
		log:     cfg.Logger.Named("supervisor"),
		backoff: newBackoffSequence(cfg.Reconnect),
		ready:   make(chan error, 1),
	}
}

// signalReady reports the outcome of the very first connect attempt to
// whoever is waiting on Ready(); later reconnects never signal again.
func (s *Supervisor) signalReady(err error) {
	s.readyOnce.Do(func() { s.ready <- err })
}

// Ready resolves with the result of the first connect attempt: nil once it
// succeeds, or the terminal error if the Supervisor gives up (no retry
// configured, attempt budget exhausted, or an authentication refusal).
func (s *Supervisor) Ready() <-chan error { return s.ready }

// Run drives connect/reconnect until ctx is cancelled or a terminal failure
// occurs (connection refused for an authentication reason, or the reconnect
// policy's attempt budget is exhausted). It returns the error that ended the
// loop; context.Canceled on a clean caller-initiated shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	attempts := 0
	for {
		framer, _, err := s.connectOnce(ctx)
		if err != nil {
			if refused, ok := err.(*ConnectionRefused); ok && refused.Authentication() {
				s.log.Error("connect refused, not retrying", zap.Error(err))
				s.signalReady(err)
				return err
			}
			if s.cfg.Reconnect.Never {
				s.signalReady(err)
				return err
			}
			attempts++
			if s.cfg.Reconnect.MaxAttempts > 0 && attempts >= s.cfg.Reconnect.MaxAttempts {
				s.signalReady(err)
				return err
			}
			delay := s.backoff.next()
			s.log.Warn("connect failed, retrying", zap.Error(err), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				s.signalReady(ctx.Err())
				return ctx.Err()
			}
		}
		attempts = 0
		s.backoff.reset()
		s.signalReady(nil)

		lost := s.runConnection(ctx, framer)
		s.engine.NotifyDisconnected()
		framer.Close()
		// runConnection can return before readLoop notices the close (the
		// ping-timeout and ctx.Done() branches race ahead of it); wait for it
		// to actually exit so the next connectOnce doesn't spawn a fresh
		// readLoop that writes s.readErr concurrently with this one.
		<-s.readerDone

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.cfg.Reconnect.Never {
			return lost
		}
		s.log.Warn("connection lost", zap.Error(lost))
	}
}

// connectOnce dials a fresh Transport and drives a connectRequest to
// completion.
func (s *Supervisor) connectOnce(ctx context.Context) (*Framer, bool, error) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	t, err := s.dial(dialCtx)
	if err != nil {
		return nil, false, wrapf(err, "mqtt: dial")
	}
	framer := NewFramer(t, 0)
	s.engine.SetFramer(framer)

	vars := VariablesConnect{
		ClientID:     s.cfg.ClientID,
		CleanSession: s.cfg.CleanSession,
		KeepAlive:    uint16(s.cfg.KeepAliveInterval / time.Second),
	}
	if s.cfg.Credentials != nil {
		vars.Username = s.cfg.Credentials.Username
		vars.Password = s.cfg.Credentials.Password
	}
	if s.cfg.Will != nil {
		vars.WillTopic = s.cfg.Will.Topic
		vars.WillMessage = s.cfg.Will.Payload
		vars.WillQoS = s.cfg.Will.QoS
		vars.WillRetain = s.cfg.Will.Retain
	}

	s.readerDone = make(chan struct{})
	s.readErr = nil
	go s.readLoop(framer, s.readerDone)

	en := s.engine.Submit(&connectRequest{vars: vars, timeout: s.cfg.ConnectTimeout})
	res := <-en.done
	if res.kind == resultFailure {
		framer.Close()
		<-s.readerDone
		return nil, false, res.err
	}
	cr := res.value.(connectResult)
	s.engine.NotifyConnected(cr.SessionPresent)
	return framer, cr.SessionPresent, nil
}

// runConnection blocks until the transport is lost (reader error, or a
// keep-alive PINGRESP timeout), then returns the reason. The keep-alive
// timer is scheduled against transport idleness (spec §4.5): every firing
// checks how long it has actually been since framer last wrote something,
// and either re-arms for the remaining idle budget or sends a PINGREQ,
// rather than sending one unconditionally every interval regardless of
// traffic.
func (s *Supervisor) runConnection(ctx context.Context, framer *Framer) error {
	var pingTimer *time.Timer
	var timerC <-chan time.Time
	if s.cfg.KeepAliveInterval > 0 {
		pingTimer = time.NewTimer(s.cfg.KeepAliveInterval)
		timerC = pingTimer.C
		defer pingTimer.Stop()
	}
	for {
		select {
		case <-s.readerDone:
			return s.readErr
		case <-timerC:
			if idle := time.Since(framer.LastWrite()); idle < s.cfg.KeepAliveInterval {
				pingTimer.Reset(s.cfg.KeepAliveInterval - idle)
				continue
			}
			en := s.engine.Submit(newPingRequest(s.cfg.KeepAliveInterval))
			// Race the ping's own completion against the transport and
			// caller-cancellation signals this select already watches --
			// blocking on en.done alone would leave a real transport error
			// unnoticed for up to a full keep-alive interval (spec §4.5/§7).
			select {
			case res := <-en.done:
				if res.kind == resultFailure {
					return res.err
				}
				pingTimer.Reset(s.cfg.KeepAliveInterval)
			case <-s.readerDone:
				return s.readErr
			case <-ctx.Done():
				dis := s.engine.Submit(newDisconnectRequest())
				<-dis.done
				return ctx.Err()
			}
		case <-ctx.Done():
			en := s.engine.Submit(newDisconnectRequest())
			<-en.done
			return ctx.Err()
		}
	}
}

// readLoop reads whole packets off framer until it errors, parses each one,
// and feeds it to the Engine. The loop's terminal error is stashed on s and
// done is closed exactly once, signalling runConnection/connectOnce that the
// transport is gone.
func (s *Supervisor) readLoop(framer *Framer, done chan struct{}) {
	defer close(done)
	for {
		hdr, body, err := framer.ReadPacket()
		if err != nil {
			if err == io.EOF {
				s.readErr = ErrConnectionClosed
			} else {
				s.readErr = wrapf(err, "mqtt: read")
			}
			return
		}
		pkt, err := Parse(hdr, body)
		if err != nil {
			s.readErr = err
			return
		}
		s.engine.NotifyPacket(pkt)
	}
}
