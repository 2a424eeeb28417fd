package mqtt

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// ReconnectPolicy selects how the Supervisor behaves after an unexpected
// transport close.
type ReconnectPolicy struct {
	// Never disables reconnection: the client transitions to Disconnected
	// and stays there.
	Never bool
	// MaxAttempts bounds retry(maxAttempts, backoff); 0 means unlimited.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff bounds the exponential growth of subsequent delays.
	MaxBackoff time.Duration
	// Jitter is the fraction (0..1) of random variance applied to each
	// computed backoff delay, to avoid reconnect storms against a broker
	// recovering from an outage.
	Jitter float64
}

// NeverReconnect disables reconnection entirely.
func NeverReconnect() ReconnectPolicy { return ReconnectPolicy{Never: true} }

// RetryReconnect builds a retry(maxAttempts, backoff) policy. maxAttempts 0
// means unlimited attempts.
func RetryReconnect(maxAttempts int, initialBackoff, maxBackoff time.Duration, jitter float64) ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		Jitter:         jitter,
	}
}

// Credentials is the optional CONNECT username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Will is the optional CONNECT Last Will and Testament.
type Will struct {
	Topic   string
	Payload []byte
	QoS     QoSLevel
	Retain  bool
}

// ClientConfig enumerates every configuration surface the core exposes (spec
// §6). Built via ClientOption functions, generalizing the teacher's
// clientconfig.go (which only configured read/write buffer sizes) to the
// full enumerated field list.
type ClientConfig struct {
	ClientID     string
	CleanSession bool

	KeepAliveInterval           time.Duration
	ConnectTimeout              time.Duration
	PublishRetryInterval        time.Duration
	SubscriptionTimeoutInterval time.Duration
	MaxInflight                 int

	Reconnect ReconnectPolicy

	Credentials *Credentials
	Will        *Will

	Logger *zap.Logger

	err error
}

// ClientOption configures a ClientConfig. Options apply in order; a later
// option overrides an earlier one's fields.
type ClientOption func(*ClientConfig)

// DefaultClientConfig fills every field spec §6 gives a default for. Always
// apply it first; later options override individual fields.
func DefaultClientConfig() ClientOption {
	return func(c *ClientConfig) {
		c.CleanSession = true
		c.KeepAliveInterval = 60 * time.Second
		c.ConnectTimeout = 30 * time.Second
		c.PublishRetryInterval = 5 * time.Second
		c.SubscriptionTimeoutInterval = 5 * time.Second
		c.MaxInflight = 20
		c.Reconnect = NeverReconnect()
		c.Logger = newNopLogger()
	}
}

// WithClientID sets the mandatory MQTT ClientID.
func WithClientID(id string) ClientOption {
	return func(c *ClientConfig) {
		if id == "" {
			c.err = errors.New("mqtt: ClientID must not be empty")
			return
		}
		c.ClientID = id
	}
}

// WithCleanSession overrides the CONNECT clean-session bit.
func WithCleanSession(clean bool) ClientOption {
	return func(c *ClientConfig) { c.CleanSession = clean }
}

// WithKeepAlive sets the keep-alive interval; 0 disables keep-alive pings.
func WithKeepAlive(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.KeepAliveInterval = d }
}

// WithConnectTimeout sets how long a Connect request waits for CONNACK.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ConnectTimeout = d }
}

// WithPublishRetryInterval sets the QoS1/2 retransmit interval; 0 disables
// timer-driven retries (packets are still retransmitted on reconnect when
// sessionPresent is true).
func WithPublishRetryInterval(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.PublishRetryInterval = d }
}

// WithSubscriptionTimeout sets how long Subscribe/Unsubscribe wait for
// SUBACK/UNSUBACK.
func WithSubscriptionTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.SubscriptionTimeoutInterval = d }
}

// WithMaxInflight bounds concurrently in-flight requests.
func WithMaxInflight(n int) ClientOption {
	return func(c *ClientConfig) {
		if n <= 0 {
			c.err = errors.New("mqtt: MaxInflight must be positive")
			return
		}
		c.MaxInflight = n
	}
}

// WithReconnectPolicy sets the Supervisor's reconnect behavior.
func WithReconnectPolicy(p ReconnectPolicy) ClientOption {
	return func(c *ClientConfig) { c.Reconnect = p }
}

// WithCredentials sets the CONNECT username/password.
func WithCredentials(username, password string) ClientOption {
	return func(c *ClientConfig) { c.Credentials = &Credentials{Username: username, Password: password} }
}

// WithWill sets the CONNECT Last Will and Testament.
func WithWill(w Will) ClientOption {
	return func(c *ClientConfig) { c.Will = &w }
}

// WithLogger sets the *zap.Logger used by the client, engine, dispatcher and
// supervisor. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *ClientConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

func buildConfig(opts []ClientOption) (ClientConfig, error) {
	var cfg ClientConfig
	DefaultClientConfig()(&cfg)
	for _, opt := range opts {
		opt(&cfg)
		if cfg.err != nil {
			return ClientConfig{}, cfg.err
		}
	}
	if cfg.ClientID == "" {
		return ClientConfig{}, errors.New("mqtt: ClientID is required")
	}
	return cfg, nil
}
