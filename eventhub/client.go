package eventhub

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	uuid "gopkg.in/satori/go.uuid.v1"
	"pack.ag/amqp"

	"github.com/telemetry-tools/hubtap/common"
)

// Option is a client configuration option.
type Option func(c *Client)

// WithTLSConfig sets the TLS configuration used when dialing the broker.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) {
		c.tls = tc
	}
}

// WithSASLPlain authenticates the connection with the given
// username and password pair.
func WithSASLPlain(username, password string) Option {
	return WithConnOption(amqp.ConnSASLPlain(username, password))
}

// WithConnOption appends a raw AMQP connection option.
func WithConnOption(opt amqp.ConnOption) Option {
	return func(c *Client) {
		c.opts = append(c.opts, opt)
	}
}

// WithWebSocket tunnels AMQP frames over a WebSocket connection
// on port 443 instead of the plain AMQP-over-TLS port.
func WithWebSocket() Option {
	return func(c *Client) {
		c.ws = true
	}
}

// WithLogger sets the client logger.
func WithLogger(l common.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Dial connects to the named event-stream endpoint and
// returns a consumer client for the given entity.
func Dial(host, entityPath string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, errors.New("host is blank")
	}
	if entityPath == "" {
		return nil, errors.New("entity path is blank")
	}
	c := &Client{
		host:       host,
		entityPath: entityPath,
		done:       make(chan struct{}),
		logger:     common.NewLoggerFromEnv("eventhub", "EVENTHUB_LOG_LEVEL"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tls == nil {
		c.tls = &tls.Config{RootCAs: common.RootCAs(), ServerName: host}
	}

	var err error
	if c.ws {
		conn, werr := common.DialWebSocket(host, c.tls)
		if werr != nil {
			return nil, errors.Wrap(werr, "websocket dial failed")
		}
		c.conn, err = amqp.New(conn, append(c.opts, amqp.ConnServerHostname(host))...)
	} else {
		c.conn, err = amqp.Dial("amqps://"+host, append(c.opts, amqp.ConnTLSConfig(c.tls))...)
	}
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial failed")
	}
	c.logger.Debugf("connected to %s", host)
	return c, nil
}

// DialConnectionString connects using an event-stream connection string,
// authenticating with its shared access key pair.
func DialConnectionString(cs string, opts ...Option) (*Client, error) {
	creds, err := ParseConnectionString(cs)
	if err != nil {
		return nil, err
	}
	return Dial(creds.Endpoint, creds.EntityPath, append([]Option{
		WithSASLPlain(creds.SharedAccessKeyName, creds.SharedAccessKey),
	}, opts...)...)
}

// Client is an event-stream consumer client.
type Client struct {
	mu         sync.Mutex
	host       string
	entityPath string
	tls        *tls.Config
	ws         bool
	opts       []amqp.ConnOption
	conn       *amqp.Client
	done       chan struct{}
	logger     common.Logger
}

// partitionIDs resolves partition ids of the entity with
// a request-response roundtrip to the $management endpoint.
func (c *Client) partitionIDs(ctx context.Context, sess *amqp.Session) ([]string, error) {
	replyTo := uuid.NewV4().String()
	recv, err := sess.NewReceiver(
		amqp.LinkSourceAddress("$management"),
		amqp.LinkTargetAddress(replyTo),
	)
	if err != nil {
		return nil, err
	}
	defer recv.Close(context.Background())

	send, err := sess.NewSender(
		amqp.LinkTargetAddress("$management"),
		amqp.LinkSourceAddress(replyTo),
	)
	if err != nil {
		return nil, err
	}
	defer send.Close(context.Background())

	mid := uuid.NewV4().String()
	if err := send.Send(ctx, &amqp.Message{
		Properties: &amqp.MessageProperties{
			MessageID: mid,
			ReplyTo:   replyTo,
		},
		ApplicationProperties: map[string]interface{}{
			"operation": "READ",
			"name":      c.entityPath,
			"type":      "com.microsoft:eventhub",
		},
	}); err != nil {
		return nil, err
	}

	msg, err := recv.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if err = checkMessageResponse(msg); err != nil {
		return nil, err
	}
	if msg.Properties.CorrelationID != mid {
		return nil, errors.New("message-id mismatch")
	}
	if err = msg.Accept(); err != nil {
		return nil, err
	}

	val, ok := msg.Value.(map[string]interface{})
	if !ok {
		return nil, errors.New("unable to typecast value")
	}
	ids, ok := val["partition_ids"].([]string)
	if !ok {
		return nil, errors.New("unable to typecast partition_ids")
	}
	return ids, nil
}

// checkMessageResponse checks for 200 response code
// otherwise returns an error.
func checkMessageResponse(msg *amqp.Message) error {
	rc, ok := msg.ApplicationProperties["status-code"].(int32)
	if !ok {
		return errors.New("unable to typecast status-code")
	}
	if rc == 200 {
		return nil
	}
	rd, _ := msg.ApplicationProperties["status-description"].(string)
	return fmt.Errorf("code = %d, description = %q", rc, rd)
}

// Close closes the amqp connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
