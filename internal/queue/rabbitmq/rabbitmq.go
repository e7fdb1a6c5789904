package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"connector-queue-manager/internal/models"
	"connector-queue-manager/internal/queue"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultHeartbeat = 10 * time.Second
	defaultSettle    = 5 * time.Second
	defaultVHost     = "/"

	// rabbit-hole reports 401 as a plain error rather than an ErrorResponse
	unauthorizedMessage = "Error: API responded with a 401 Unauthorized"
)

type Provider struct {
	amqpURI  string
	httpURI  string
	username string
	password string
	timeout  time.Duration
	// settle is how long a call whose deadline passed may still wait for
	// the broker's reply before its outcome is reported as unknown
	settle time.Duration

	transport *http.Transport

	mu   sync.RWMutex
	conn *amqp.Connection
}

var _ queue.Provider = (*Provider)(nil)

func New(amqpURI string) *Provider {
	// Extract credentials and host from AMQP URI for HTTP API
	httpURI := ""
	username := "guest"
	password := "guest"

	if amqpURI != "" {
		parsed, err := url.Parse(amqpURI)
		if err == nil {
			if parsed.User != nil {
				username = parsed.User.Username()
				if pwd, ok := parsed.User.Password(); ok {
					password = pwd
				}
			}
			// amqp://host:5672 -> http://host:15672
			if host := parsed.Hostname(); host != "" {
				httpURI = fmt.Sprintf("http://%s:15672", host)
			}
		}
	}

	p := &Provider{
		amqpURI:  amqpURI,
		httpURI:  httpURI,
		username: username,
		password: password,
		settle:   defaultSettle,
	}
	p.SetTimeout(defaultTimeout)
	return p
}

// NewWithHTTP creates a provider with explicit HTTP URI
func NewWithHTTP(amqpURI, httpURI string) *Provider {
	p := New(amqpURI)
	if httpURI != "" {
		parsed, err := url.Parse(httpURI)
		if err == nil {
			// Credentials in the HTTP URI take precedence
			if parsed.User != nil {
				p.username = parsed.User.Username()
				if pwd, ok := parsed.User.Password(); ok {
					p.password = pwd
				}
			}
			p.httpURI = strings.TrimSuffix(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), "/")
		} else {
			p.httpURI = strings.TrimSuffix(httpURI, "/")
		}
	}
	return p
}

// SetTimeout bounds management API round trips and connection dials
func (p *Provider) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultTimeout
	}
	p.timeout = d
	p.transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: d}).DialContext,
		ResponseHeaderTimeout: d,
		MaxIdleConnsPerHost:   4,
	}
}

func (p *Provider) URI() string {
	return p.amqpURI
}

// Connection breaks the AMQP URI into the parts connectors need
func (p *Provider) Connection() models.ConnectionInfo {
	u, err := amqp.ParseURI(p.amqpURI)
	if err != nil {
		return models.ConnectionInfo{}
	}
	return models.ConnectionInfo{
		Host:   u.Host,
		Port:   u.Port,
		VHost:  vhostOrDefault(u.Vhost),
		UseSSL: u.Scheme == "amqps",
		User:   u.Username,
		Pass:   u.Password,
	}
}

// vhost is the virtual host the AMQP connection works in. Management
// queries are scoped to it so they see what DeleteQueue can act on.
func (p *Provider) vhost() string {
	return vhostOrDefault(p.Connection().VHost)
}

func vhostOrDefault(v string) string {
	if v == "" {
		return defaultVHost
	}
	return v
}

func (p *Provider) Connect(ctx context.Context) error {
	if p.amqpURI == "" {
		return fmt.Errorf("RABBITMQ_AMQP_URI is required")
	}
	dialer := &net.Dialer{Timeout: p.timeout}
	conn, err := amqp.DialConfig(p.amqpURI, amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrBrokerUnavailable, err)
	}

	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.mu.Unlock()

	if old != nil && !old.IsClosed() {
		_ = old.Close()
	}
	return nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

func (p *Provider) Health() queue.HealthStatus {
	if !p.connected() {
		return queue.HealthStatus{OK: false, Details: "connection closed"}
	}
	return queue.HealthStatus{OK: true, Details: "connected"}
}

func (p *Provider) connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *Provider) channel() (*amqp.Channel, error) {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("%w: not connected", queue.ErrBrokerUnavailable)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, p.classify(err)
	}
	return ch, nil
}

// withChannel runs fn on a short-lived channel, see awaitRPC for what
// happens when ctx expires while the broker has not answered yet.
func (p *Provider) withChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	abandoned := false
	err = awaitRPC(ctx, p.settle, func() error { return fn(ch) }, func() {
		abandoned = true
		go ch.Close()
	})
	if !abandoned {
		_ = ch.Close()
	}
	return p.classify(err)
}

// awaitRPC waits for run. A method already sent is still processed by the
// broker after ctx expires, so returning at the deadline would let it land
// after whatever the caller does next (a rollback delete, a retry). Once ctx
// is done run gets up to settle more to finish and its result is returned
// as is. Only if that also lapses is abandon called and the outcome
// reported as unknown.
func awaitRPC(ctx context.Context, settle time.Duration, run func() error, abandon func()) error {
	done := make(chan error, 1)
	go func() { done <- run() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		abandon()
		return fmt.Errorf("%w: %v: no reply within %s, outcome unknown",
			queue.ErrBrokerUnavailable, ctx.Err(), settle)
	}
}

// classify marks connection-level failures as ErrBrokerUnavailable and
// leaves channel-level protocol errors untouched.
func (p *Provider) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, queue.ErrBrokerUnavailable) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, amqp.ErrClosed) || errors.As(err, &netErr) || !p.connected() ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", queue.ErrBrokerUnavailable, err)
	}
	return err
}

func (p *Provider) DeclareExchange(ctx context.Context, name, kind string) error {
	return p.withChannel(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(name, kind, true, false, false, false, nil)
	})
}

func (p *Provider) DeclareQueue(ctx context.Context, name string, args map[string]interface{}) error {
	return p.withChannel(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table(args))
		return err
	})
}

func (p *Provider) BindQueue(ctx context.Context, queueName, exchange, routingKey string, args map[string]interface{}) error {
	return p.withChannel(ctx, func(ch *amqp.Channel) error {
		return ch.QueueBind(queueName, routingKey, exchange, false, amqp.Table(args))
	})
}

func (p *Provider) DeleteQueue(ctx context.Context, name string) (int, error) {
	var purged int
	err := p.withChannel(ctx, func(ch *amqp.Channel) error {
		n, err := ch.QueueDelete(name, false, false, false)
		if err != nil {
			var amqpErr *amqp.Error
			if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
				// Queue doesn't exist, treat as success (idempotent)
				return nil
			}
			return err
		}
		purged = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// Publish sends a persistent JSON message and waits for the broker confirm
func (p *Provider) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers map[string]interface{}) error {
	return p.withChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.Confirm(false); err != nil {
			return err
		}
		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
			exchange, routingKey, false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now().UTC(),
				Headers:      amqp.Table(headers),
				Body:         body,
			},
		)
		if err != nil {
			return err
		}
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !acked {
			return fmt.Errorf("publish to %s/%s was nacked by the broker", exchange, routingKey)
		}
		return nil
	})
}

// isSystemExchange checks if an exchange is a RabbitMQ system exchange
func isSystemExchange(name string) bool {
	if name == "" {
		return true // default exchange
	}
	return strings.HasPrefix(name, "amq.")
}

func (p *Provider) management() (*rabbithole.Client, error) {
	if p.httpURI == "" {
		return nil, fmt.Errorf("HTTP URI not configured - set RABBITMQ_HTTP_URI environment variable or ensure AMQP URI can be parsed")
	}
	client, err := rabbithole.NewTLSClient(p.httpURI, p.username, p.password, p.transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create management client for %s: %w", p.httpURI, err)
	}
	return client, nil
}

// callManagement runs a management API request, giving up when ctx expires
func callManagement[T any](ctx context.Context, p *Provider, op string, fn func(c *rabbithole.Client) (T, error)) (T, error) {
	var zero T
	client, err := p.management()
	if err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(client)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return zero, classifyHTTP(op, r.err)
		}
		return r.value, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %s: %v", queue.ErrBrokerUnavailable, op, ctx.Err())
	}
}

// classifyHTTP keeps HTTP status errors as-is; anything else means the
// management endpoint could not be reached.
func classifyHTTP(op string, err error) error {
	var rme rabbithole.ErrorResponse
	if errors.As(err, &rme) {
		return fmt.Errorf("failed to %s: HTTP %d: %s", op, rme.StatusCode, rme.Message)
	}
	if err.Error() == unauthorizedMessage {
		return fmt.Errorf("failed to %s: HTTP %d: management API rejected the credentials", op, http.StatusUnauthorized)
	}
	return fmt.Errorf("%w: failed to %s: %v", queue.ErrBrokerUnavailable, op, err)
}

// Overview returns broker version information from the management API
func (p *Provider) Overview(ctx context.Context) (models.BrokerOverview, error) {
	return callManagement(ctx, p, "get overview", func(c *rabbithole.Client) (models.BrokerOverview, error) {
		ov, err := c.Overview()
		if err != nil {
			return models.BrokerOverview{}, err
		}
		return models.BrokerOverview{
			ManagementVersion: ov.ManagementVersion,
			RabbitMQVersion:   ov.RabbitMQVersion,
			ErlangVersion:     ov.ErlangVersion,
			Node:              ov.Node,
		}, nil
	})
}

// ListQueues returns every queue in the connection's vhost with its depth
// and consumer count
func (p *Provider) ListQueues(ctx context.Context) ([]models.QueueStats, error) {
	vhost := p.vhost()
	return callManagement(ctx, p, "list queues", func(c *rabbithole.Client) ([]models.QueueStats, error) {
		queues, err := c.ListQueuesIn(vhost)
		if err != nil {
			return nil, err
		}
		stats := make([]models.QueueStats, 0, len(queues))
		for _, q := range queues {
			stats = append(stats, models.QueueStats{
				Name:          q.Name,
				MessageCount:  q.Messages,
				ConsumerCount: q.Consumers,
			})
		}
		return stats, nil
	})
}

// ListExchanges returns the exchange names in the connection's vhost,
// excluding system exchanges
func (p *Provider) ListExchanges(ctx context.Context) ([]string, error) {
	vhost := p.vhost()
	return callManagement(ctx, p, "list exchanges", func(c *rabbithole.Client) ([]string, error) {
		exchanges, err := c.ListExchangesIn(vhost)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, ex := range exchanges {
			if !isSystemExchange(ex.Name) {
				names = append(names, ex.Name)
			}
		}
		return names, nil
	})
}
