package mqtt

import "context"

// Client is the package's single entry point: it wires an Engine, a
// Dispatcher and a Supervisor around one Dialer and exposes the operations
// an application actually calls (spec §6) -- Connect, Publish, Subscribe,
// Unsubscribe, AddMessageListener, Disconnect.
type Client struct {
	cfg        ClientConfig
	dispatcher *Dispatcher
	engine     *Engine
	supervisor *Supervisor

	cancel  context.CancelFunc
	runDone chan error
}

// NewClient builds a Client that dials via dial. dial is called once per
// connect/reconnect attempt; see Dialer and DialTCP/NewWebSocketTransport.
func NewClient(dial Dialer, opts ...ClientOption) (*Client, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	dispatcher := NewDispatcher(cfg.Logger)
	engine := NewEngine(dispatcher, cfg.MaxInflight, cfg.Logger)
	supervisor := NewSupervisor(cfg, dial, engine)
	return &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		engine:     engine,
		supervisor: supervisor,
	}, nil
}

// Connect starts the event loop and the Supervisor's connect/reconnect
// lifecycle, and blocks until the first connection attempt resolves: nil on
// success, or the terminal error if it fails and the configured
// ReconnectPolicy gives up. Reconnects after that point happen in the
// background; their outcome is visible only through the errors individual
// requests return while disconnected.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runDone = make(chan error, 1)

	go c.engine.Run()
	go func() { c.runDone <- c.supervisor.Run(runCtx) }()

	select {
	case err := <-c.supervisor.Ready():
		return err
	case err := <-c.runDone:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Publish sends msg and waits for delivery to complete: immediately for
// QoS0, after the broker's acknowledgement handshake for QoS1/QoS2.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if !msg.QoS.IsValid() {
		return &ProtocolError{Kind: InvalidQoS}
	}
	en := c.engine.Submit(newPublishRequest(msg, c.cfg.PublishRetryInterval))
	select {
	case res := <-en.done:
		if res.kind == resultFailure {
			return res.err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe issues SUBSCRIBE for subs and waits for SUBACK, returning one
// SubscriptionResult per entry in subs, in order.
func (c *Client) Subscribe(ctx context.Context, subs ...Subscription) ([]SubscriptionResult, error) {
	en := c.engine.Submit(newSubscribeRequest(subs, c.cfg.SubscriptionTimeoutInterval))
	select {
	case res := <-en.done:
		if res.kind == resultFailure {
			return nil, res.err
		}
		return res.value.([]SubscriptionResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe issues UNSUBSCRIBE for topics and waits for UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	en := c.engine.Submit(newUnsubscribeRequest(topics, c.cfg.SubscriptionTimeoutInterval))
	select {
	case res := <-en.done:
		if res.kind == resultFailure {
			return res.err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddMessageListener registers fn for every inbound message whose topic
// matches filter. Call Subscribe separately to ask the broker to actually
// route matching messages to this connection; AddMessageListener only
// governs local dispatch.
func (c *Client) AddMessageListener(filter string, fn Listener) (ListenerHandle, error) {
	return c.dispatcher.AddMessageListener(filter, fn)
}

// Disconnect sends DISCONNECT if connected, then stops the event loop and
// the Supervisor, failing every still-queued or in-flight request with
// ErrClientShutdown.
func (c *Client) Disconnect(ctx context.Context) error {
	en := c.engine.Submit(newDisconnectRequest())
	var disconnectErr error
	select {
	case res := <-en.done:
		if res.kind == resultFailure {
			disconnectErr = res.err
		}
	case <-ctx.Done():
		disconnectErr = ctx.Err()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.engine.Shutdown()
	if c.runDone != nil {
		<-c.runDone
	}
	return disconnectErr
}
