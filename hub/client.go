// Package hub reads device-to-cloud telemetry from a hub's built-in
// event stream.
//
// The hub doesn't expose its event stream directly, instead it
// advertises the backing endpoint with an AMQP link-redirect error.
// The client provokes that error on purpose, derives an event-stream
// connection string from it and subscribes to the resolved endpoint.
package hub

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"pack.ag/amqp"

	"github.com/telemetry-tools/hubtap/common"
	"github.com/telemetry-tools/hubtap/credentials"
	"github.com/telemetry-tools/hubtap/eventhub"
)

// ClientOption is a client configuration option.
type ClientOption func(c *Client) error

// WithConnectionString parses the given connection string
// instead of using WithCredentials.
func WithConnectionString(cs string) ClientOption {
	return func(c *Client) error {
		creds, err := credentials.ParseConnectionString(cs)
		if err != nil {
			return err
		}
		c.creds = creds
		return nil
	}
}

// WithCredentials uses the given credentials for token generation.
func WithCredentials(creds *credentials.Credentials) ClientOption {
	return func(c *Client) error {
		c.creds = creds
		return nil
	}
}

// WithLogger sets the client logger.
func WithLogger(l common.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithTLSConfig sets the TLS config used by AMQP connections.
func WithTLSConfig(config *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tls = config
		return nil
	}
}

// WithTokenValidity overrides the validity window of
// access tokens generated for the conversion handshake.
func WithTokenValidity(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return errors.New("token validity must be positive")
		}
		c.validity = d
		return nil
	}
}

// WithTimeout bounds the redirect wait, zero disables the limit
// and an unresponsive endpoint blocks until the context is done.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithWebSocket tunnels AMQP over WebSockets on port 443.
func WithWebSocket(enable bool) ClientOption {
	return func(c *Client) error {
		c.ws = enable
		return nil
	}
}

const (
	// DefaultTimeout bounds the conversion roundtrip.
	DefaultTimeout = 30 * time.Second
)

// New creates a new hub client.
//
// When no credentials are configured it falls back
// to the $HUB_CONNECTION_STRING environment variable.
func New(opts ...ClientOption) (*Client, error) {
	c := &Client{
		validity: credentials.DefaultTokenDuration,
		timeout:  DefaultTimeout,
		logger:   common.NewLoggerFromEnv("hub", "HUB_LOG_LEVEL"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.creds == nil {
		cs := os.Getenv("HUB_CONNECTION_STRING")
		if cs == "" {
			return nil, errors.New("$HUB_CONNECTION_STRING is empty")
		}
		var err error
		c.creds, err = credentials.ParseConnectionString(cs)
		if err != nil {
			return nil, err
		}
	}
	if c.tls == nil {
		c.tls = &tls.Config{RootCAs: common.RootCAs()}
	}
	return c, nil
}

// Client converts hub credentials into an event-stream subscription.
type Client struct {
	creds    *credentials.Credentials
	tls      *tls.Config
	logger   common.Logger
	validity time.Duration
	timeout  time.Duration
	ws       bool
}

// Credentials returns the hub credentials the client was built with.
func (c *Client) Credentials() *credentials.Credentials {
	return c.creds
}

// EventHubConnectionString derives an event-stream connection string
// from the hub credentials.
//
// It opens a receiving link to the hub's events management node which
// the hub is expected to answer with a link-redirect error naming the
// real event-stream host. The operation performs a single network
// roundtrip and is never retried internally.
func (c *Client) EventHubConnectionString(ctx context.Context) (string, error) {
	hubName, err := c.creds.HubName()
	if err != nil {
		return "", err
	}
	token, err := c.creds.GenerateToken(
		c.creds.HostName+"/messages/events",
		credentials.WithDuration(c.validity),
	)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(
		amqp.ConnSASLPlain(c.creds.SharedAccessKeyName+"@sas.root."+hubName, token),
	)
	if err != nil {
		return "", errors.Wrap(err, "amqp dial failed")
	}
	defer conn.Close()

	sess, err := conn.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close(context.Background())

	recv, err := sess.NewReceiver(amqp.LinkSourceAddress(
		"amqps://" + c.creds.HostName + "/messages/events/$management",
	))
	if err != nil {
		return "", err
	}
	defer recv.Close(context.Background())

	// the link never delivers application messages,
	// its sole purpose is to provoke the redirect
	_, rerr := recv.Receive(ctx)

	cs, err := redirectConnectionString(
		rerr, hubName, c.creds.SharedAccessKeyName, c.creds.SharedAccessKey,
	)
	if err != nil {
		return "", err
	}
	c.logger.Debugf("redirected to the %s event stream", hubName)
	return cs, nil
}

// redirectConnectionString builds an event-stream connection string
// from a link-redirect error.
//
// Any other error, including a redirect missing the hostname field,
// passes through unchanged. A nil error means the link attached and
// delivered a message instead of redirecting, which is a failure too.
func redirectConnectionString(err error, entityPath, keyName, key string) (string, error) {
	if err == nil {
		return "", errors.New("expected redirect error")
	}
	derr, ok := err.(*amqp.DetachError)
	if !ok || derr.RemoteError == nil ||
		derr.RemoteError.Condition != amqp.ErrorLinkRedirect {
		return "", err
	}
	host, _ := derr.RemoteError.Info["hostname"].(string)
	if host == "" {
		return "", err
	}
	return fmt.Sprintf(
		"Endpoint=sb://%s/;EntityPath=%s;SharedAccessKeyName=%s;SharedAccessKey=%s",
		host, entityPath, keyName, key,
	), nil
}

func (c *Client) dial(opts ...amqp.ConnOption) (*amqp.Client, error) {
	if c.ws {
		conn, err := common.DialWebSocket(c.creds.HostName, c.tls)
		if err != nil {
			return nil, err
		}
		return amqp.New(conn, append(opts, amqp.ConnServerHostname(c.creds.HostName))...)
	}
	return amqp.Dial("amqps://"+c.creds.HostName,
		append(opts, amqp.ConnTLSConfig(c.tls))...,
	)
}

// SubscribeEvents streams device-to-cloud telemetry batches
// to the given handler.
//
// Every invocation resolves the event-stream endpoint anew and owns
// its connection exclusively, an app normally calls it once.
func (c *Client) SubscribeEvents(
	ctx context.Context,
	fn eventhub.BatchHandler,
	opts ...eventhub.SubscribeOption,
) error {
	cs, err := c.EventHubConnectionString(ctx)
	if err != nil {
		return err
	}
	creds, err := eventhub.ParseConnectionString(cs)
	if err != nil {
		return err
	}

	tlsCfg := c.tls.Clone()
	tlsCfg.ServerName = creds.Endpoint

	ehOpts := []eventhub.Option{
		eventhub.WithLogger(c.logger),
		eventhub.WithTLSConfig(tlsCfg),
		eventhub.WithSASLPlain(creds.SharedAccessKeyName, creds.SharedAccessKey),
	}
	if c.ws {
		ehOpts = append(ehOpts, eventhub.WithWebSocket())
	}
	eh, err := eventhub.Dial(creds.Endpoint, creds.EntityPath, ehOpts...)
	if err != nil {
		return err
	}
	defer eh.Close()

	return eh.Subscribe(ctx, fn, opts...)
}
