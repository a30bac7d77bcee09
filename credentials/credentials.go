package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConnectionString is returned when a connection string
// misses one of the required fields or is not a k=v pair list.
var ErrInvalidConnectionString = errors.New("invalid connection string")

// ParseConnectionString parses the given string into a Credentials struct.
//
// The expected format is semicolon-delimited, order-independent
// `HostName=...;SharedAccessKeyName=...;SharedAccessKey=...`,
// all three fields are required.
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
		case "SharedAccessKeyName":
			c.SharedAccessKeyName = kv[1]
		case "SharedAccessKey":
			c.SharedAccessKey = kv[1]
		}
	}
	if c.HostName == "" || c.SharedAccessKeyName == "" || c.SharedAccessKey == "" {
		return nil, ErrInvalidConnectionString
	}
	return c, nil
}

// Credentials is a hub shared access policy.
type Credentials struct {
	HostName            string
	SharedAccessKeyName string
	SharedAccessKey     string
}

// ConnectionString re-serializes the credentials,
// ParseConnectionString is its inverse.
func (c *Credentials) ConnectionString() string {
	return fmt.Sprintf("HostName=%s;SharedAccessKeyName=%s;SharedAccessKey=%s",
		c.HostName, c.SharedAccessKeyName, c.SharedAccessKey,
	)
}

// HubName returns the hub's short name,
// the first label of the hostname.
func (c *Credentials) HubName() (string, error) {
	name := strings.SplitN(c.HostName, ".", 2)[0]
	if name == "" {
		return "", errors.New("unable to extract hub name from hostname")
	}
	return name, nil
}

type token struct {
	duration time.Duration
	time     time.Time
}

// TokenOption is a token generation option.
type TokenOption func(opts *token)

// WithDuration sets token validity duration.
func WithDuration(d time.Duration) TokenOption {
	return func(opts *token) {
		opts.duration = d
	}
}

// WithCurrentTime overrides the current time clock,
// needed for deterministic tests.
func WithCurrentTime(t time.Time) TokenOption {
	return func(opts *token) {
		opts.time = t
	}
}

// DefaultTokenDuration is the validity window
// of generated tokens unless WithDuration is given.
const DefaultTokenDuration = 5 * time.Minute

// GenerateToken generates a SAS token for the given resource uri.
//
// The signature is an HMAC-SHA256 over `<encoded-uri>\n<expiry>` keyed
// with the base64-decoded shared access key.
func (c *Credentials) GenerateToken(uri string, opts ...TokenOption) (string, error) {
	if uri == "" {
		return "", errors.New("uri is blank")
	}
	if c.SharedAccessKey == "" {
		return "", errors.New("SharedAccessKey is blank")
	}

	topts := &token{
		duration: DefaultTokenDuration,
		time:     time.Now(),
	}
	for _, opt := range opts {
		opt(topts)
	}

	sr := url.QueryEscape(uri)
	se := topts.time.Add(topts.duration).Unix()

	b, err := base64.StdEncoding.DecodeString(c.SharedAccessKey)
	if err != nil {
		return "", err
	}

	h := hmac.New(sha256.New, b)
	if _, err = h.Write([]byte(fmt.Sprintf("%s\n%d", sr, se))); err != nil {
		return "", err
	}

	return "SharedAccessSignature " +
		"sr=" + sr +
		"&sig=" + url.QueryEscape(base64.StdEncoding.EncodeToString(h.Sum(nil))) +
		"&se=" + url.QueryEscape(strconv.FormatInt(se, 10)) +
		"&skn=" + url.QueryEscape(c.SharedAccessKeyName), nil
}
