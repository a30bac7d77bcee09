// Package device sends simulated device-to-cloud telemetry over MQTT,
// useful for feeding the stream the hub package reads.
package device

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/telemetry-tools/hubtap/common"
	"github.com/telemetry-tools/hubtap/credentials"
)

// ErrInvalidConnectionString is returned when a device connection
// string misses one of the required fields.
var ErrInvalidConnectionString = errors.New("invalid device connection string")

// Credentials identifies a single device.
type Credentials struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
}

// ParseConnectionString parses a device connection string,
// `HostName=...;DeviceId=...;SharedAccessKey=...`, all fields required.
func ParseConnectionString(cs string) (*Credentials, error) {
	c := &Credentials{}
	for _, chunk := range strings.Split(cs, ";") {
		kv := strings.SplitN(chunk, "=", 2)
		if len(kv) != 2 {
			return nil, ErrInvalidConnectionString
		}
		switch kv[0] {
		case "HostName":
			c.HostName = kv[1]
		case "DeviceId":
			c.DeviceID = kv[1]
		case "SharedAccessKey":
			c.SharedAccessKey = kv[1]
		}
	}
	if c.HostName == "" || c.DeviceID == "" || c.SharedAccessKey == "" {
		return nil, ErrInvalidConnectionString
	}
	return c, nil
}

// Option is a client configuration option.
type Option func(c *Client) error

// WithConnectionString parses the given device connection string.
func WithConnectionString(cs string) Option {
	return func(c *Client) error {
		creds, err := ParseConnectionString(cs)
		if err != nil {
			return err
		}
		c.creds = creds
		return nil
	}
}

// WithTLSConfig sets the TLS config used by the MQTT connection.
func WithTLSConfig(config *tls.Config) Option {
	return func(c *Client) error {
		c.tls = config
		return nil
	}
}

// WithLogger sets the client logger.
func WithLogger(l common.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// New creates a device client, falling back to the
// $DEVICE_CONNECTION_STRING environment variable when
// no connection string is configured.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		done:   make(chan struct{}),
		logger: common.NewLoggerFromEnv("device", "DEVICE_LOG_LEVEL"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.creds == nil {
		cs := os.Getenv("DEVICE_CONNECTION_STRING")
		if cs == "" {
			return nil, errors.New("$DEVICE_CONNECTION_STRING is empty")
		}
		var err error
		c.creds, err = ParseConnectionString(cs)
		if err != nil {
			return nil, err
		}
	}
	if c.tls == nil {
		c.tls = &tls.Config{
			RootCAs:    common.RootCAs(),
			ServerName: c.creds.HostName,
		}
	}
	return c, nil
}

// Client is a device-side telemetry sender.
type Client struct {
	mu     sync.Mutex
	creds  *Credentials
	tls    *tls.Config
	conn   mqtt.Client
	done   chan struct{}
	logger common.Logger
}

// a simulated device may keep the connection
// open between sends, so the token lives long
const sasDuration = time.Hour

// Connect establishes the MQTT connection,
// subsequent calls return an error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return errors.New("already connected")
	}

	// devices sign with their own key, the policy name stays blank
	sas := &credentials.Credentials{
		HostName:        c.creds.HostName,
		SharedAccessKey: c.creds.SharedAccessKey,
	}
	token, err := sas.GenerateToken(
		c.creds.HostName+"/devices/"+url.PathEscape(c.creds.DeviceID),
		credentials.WithDuration(sasDuration),
	)
	if err != nil {
		return err
	}

	o := mqtt.NewClientOptions()
	o.AddBroker("tls://" + c.creds.HostName + ":8883")
	o.SetClientID(c.creds.DeviceID)
	o.SetUsername(c.creds.HostName + "/" + c.creds.DeviceID + "/api-version=" + common.APIVersion)
	o.SetPassword(token)
	o.SetTLSConfig(c.tls)
	o.SetAutoReconnect(false)
	o.SetOnConnectHandler(func(_ mqtt.Client) {
		c.logger.Debugf("connection established")
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warnf("connection lost: %v", err)
	})

	conn := mqtt.NewClient(o)
	if t := conn.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.conn = conn
	return nil
}

// SendOption is a telemetry send option.
type SendOption func(u url.Values)

// WithSendMessageID sets the message id.
func WithSendMessageID(mid string) SendOption {
	return func(u url.Values) {
		u.Set("$.mid", mid)
	}
}

// WithSendCorrelationID sets the correlation id.
func WithSendCorrelationID(cid string) SendOption {
	return func(u url.Values) {
		u.Set("$.cid", cid)
	}
}

// WithSendProperty sets a custom message property.
func WithSendProperty(k, v string) SendOption {
	return func(u url.Values) {
		u.Set(k, v)
	}
}

// WithSendProperties same as WithSendProperty
// but accepts a map of keys and values.
func WithSendProperties(m map[string]string) SendOption {
	return func(u url.Values) {
		for k, v := range m {
			u.Set(k, v)
		}
	}
}

// SendEvent publishes a device-to-cloud telemetry message.
func (c *Client) SendEvent(ctx context.Context, payload []byte, opts ...SendOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}

	u := make(url.Values, len(opts))
	for _, opt := range opts {
		opt(u)
	}

	// existing SDKs publish telemetry with QoS 1
	t := c.conn.Publish(eventTopic(c.creds.DeviceID, u), 1, false, payload)
	t.Wait()
	return t.Error()
}

// eventTopic is the device-to-cloud telemetry topic with
// message attributes encoded as a url query string.
func eventTopic(deviceID string, u url.Values) string {
	return "devices/" + deviceID + "/messages/events/" + u.Encode()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	if c.conn != nil && c.conn.IsConnected() {
		c.conn.Disconnect(250)
		c.logger.Debugf("disconnected")
	}
	return nil
}
