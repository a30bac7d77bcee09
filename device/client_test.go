package device

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseConnectionString(t *testing.T) {
	t.Parallel()

	got, err := ParseConnectionString(
		"HostName=myhub.azure-devices.net;DeviceId=mydev;SharedAccessKey=c2VjcmV0",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := &Credentials{
		HostName:        "myhub.azure-devices.net",
		DeviceID:        "mydev",
		SharedAccessKey: "c2VjcmV0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ParseConnectionString mismatch (-want +got):\n%s", diff)
	}
}

func TestParseConnectionString_Invalid(t *testing.T) {
	t.Parallel()

	for _, cs := range []string{
		"",
		"HostName=myhub.azure-devices.net;DeviceId=mydev",
		"DeviceId=mydev;SharedAccessKey=c2VjcmV0",
	} {
		if _, err := ParseConnectionString(cs); err != ErrInvalidConnectionString {
			t.Errorf("ParseConnectionString(%q) = %v, want %v", cs, err, ErrInvalidConnectionString)
		}
	}
}

func TestEventTopic(t *testing.T) {
	t.Parallel()

	if g, w := eventTopic("mydev", nil), "devices/mydev/messages/events/"; g != w {
		t.Errorf("eventTopic = %q, want %q", g, w)
	}

	u := url.Values{}
	for _, opt := range []SendOption{
		WithSendMessageID("mid-1"),
		WithSendProperty("b", "2"),
		WithSendProperties(map[string]string{"a": "1"}),
	} {
		opt(u)
	}
	// url encoding orders keys alphabetically
	want := "devices/mydev/messages/events/%24.mid=mid-1&a=1&b=2"
	if g := eventTopic("mydev", u); g != want {
		t.Errorf("eventTopic = %q, want %q", g, want)
	}
}
