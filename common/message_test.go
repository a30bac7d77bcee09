package common

import (
	"strings"
	"testing"
	"time"
)

func TestMessage_DeviceID(t *testing.T) {
	t.Parallel()

	msg := &Message{SystemProperties: map[string]interface{}{
		SysConnectionDeviceID: "mydev",
	}}
	if g := msg.DeviceID(); g != "mydev" {
		t.Errorf("DeviceID() = %q, want %q", g, "mydev")
	}
	if g := (&Message{}).DeviceID(); g != "" {
		t.Errorf("DeviceID() = %q, want empty", g)
	}
}

func TestMessage_EnqueuedTime(t *testing.T) {
	t.Parallel()

	w := time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)
	msg := &Message{SystemProperties: map[string]interface{}{
		SysEnqueuedTime: w,
	}}
	if g := msg.EnqueuedTime(); !g.Equal(w) {
		t.Errorf("EnqueuedTime() = %v, want %v", g, w)
	}
}

func TestMessage_Inspect(t *testing.T) {
	t.Parallel()

	msg := &Message{
		Payload:    []byte("hello"),
		Properties: map[string]string{"foo": "bar"},
		SystemProperties: map[string]interface{}{
			SysConnectionDeviceID: "mydev",
		},
	}
	s := msg.Inspect()
	for _, w := range []string{"hello", "foo", "bar", "mydev"} {
		if !strings.Contains(s, w) {
			t.Errorf("Inspect() misses %q:\n%s", w, s)
		}
	}
}
