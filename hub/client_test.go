package hub

import (
	"errors"
	"testing"

	"pack.ag/amqp"

	"github.com/telemetry-tools/hubtap/credentials"
)

func TestRedirectConnectionString(t *testing.T) {
	t.Parallel()

	redirect := &amqp.DetachError{RemoteError: &amqp.Error{
		Condition: amqp.ErrorLinkRedirect,
		Info: map[string]interface{}{
			"hostname": "foo.bar.net",
		},
	}}

	cs, err := redirectConnectionString(redirect, "myhub", "service", "abcd==")
	if err != nil {
		t.Fatal(err)
	}
	want := "Endpoint=sb://foo.bar.net/;EntityPath=myhub;SharedAccessKeyName=service;SharedAccessKey=abcd=="
	if cs != want {
		t.Errorf("redirectConnectionString = %q, want %q", cs, want)
	}
}

func TestRedirectConnectionString_MissingHostname(t *testing.T) {
	t.Parallel()

	redirect := &amqp.DetachError{RemoteError: &amqp.Error{
		Condition: amqp.ErrorLinkRedirect,
		Info:      map[string]interface{}{},
	}}

	if _, err := redirectConnectionString(redirect, "myhub", "service", "abcd=="); err != redirect {
		t.Errorf("err = %v, want the original %v", err, redirect)
	}
}

func TestRedirectConnectionString_OtherCondition(t *testing.T) {
	t.Parallel()

	detach := &amqp.DetachError{RemoteError: &amqp.Error{
		Condition: "amqp:unauthorized-access",
	}}

	if _, err := redirectConnectionString(detach, "myhub", "service", "abcd=="); err != detach {
		t.Errorf("err = %v, want the original %v", err, detach)
	}
}

func TestRedirectConnectionString_NilError(t *testing.T) {
	t.Parallel()

	// a link that attaches instead of redirecting is a failure
	cs, err := redirectConnectionString(nil, "myhub", "service", "abcd==")
	if err == nil {
		t.Fatal("nil receive error produced no error")
	}
	if cs != "" {
		t.Errorf("cs = %q, want empty", cs)
	}
}

func TestRedirectConnectionString_PlainError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	if _, err := redirectConnectionString(boom, "myhub", "service", "abcd=="); err != boom {
		t.Errorf("err = %v, want the original %v", err, boom)
	}
}

func TestNew_InvalidConnectionString(t *testing.T) {
	t.Parallel()

	// rejected synchronously, before any network activity
	_, err := New(WithConnectionString(
		"HostName=myhub.azure-devices.net;SharedAccessKeyName=service",
	))
	if err != credentials.ErrInvalidConnectionString {
		t.Errorf("New = %v, want %v", err, credentials.ErrInvalidConnectionString)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c, err := New(WithConnectionString(
		"HostName=myhub.azure-devices.net;SharedAccessKeyName=service;SharedAccessKey=abcd==",
	))
	if err != nil {
		t.Fatal(err)
	}
	if c.validity != credentials.DefaultTokenDuration {
		t.Errorf("validity = %v, want %v", c.validity, credentials.DefaultTokenDuration)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
	if c.ws {
		t.Error("websockets enabled by default")
	}
	if c.tls == nil || c.tls.RootCAs == nil {
		t.Error("tls root CAs are not set")
	}
}

func TestWithTokenValidity_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := New(
		WithCredentials(&credentials.Credentials{
			HostName:            "myhub.azure-devices.net",
			SharedAccessKeyName: "service",
			SharedAccessKey:     "abcd==",
		}),
		WithTokenValidity(0),
	); err == nil {
		t.Error("WithTokenValidity(0) accepted")
	}
}
