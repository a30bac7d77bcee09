package common

import (
	"bytes"
	"fmt"
	"sort"
	"time"
	"unicode"
)

// System property keys set by the hub on device-to-cloud messages.
const (
	SysConnectionDeviceID   = "iothub-connection-device-id"
	SysConnectionAuthGenID  = "iothub-connection-auth-generation-id"
	SysConnectionAuthMethod = "iothub-connection-auth-method"
	SysMessageSource        = "iothub-message-source"
	SysEnqueuedTime         = "iothub-enqueuedtime"
)

// Message is a device-to-cloud telemetry message.
//
// The payload is arbitrary serialized data, the library never
// interprets it. Properties are set by the message origin,
// SystemProperties are set by the hub.
// See: https://docs.microsoft.com/en-us/azure/iot-hub/iot-hub-devguide-messages-construct
type Message struct {
	// MessageID is a user-settable identifier for the message
	// used for request-reply patterns.
	MessageID string `json:"MessageId,omitempty"`

	// CorrelationID typically contains the MessageId of a request
	// in request-reply patterns.
	CorrelationID string `json:"CorrelationId,omitempty"`

	// UserID identifies the origin of the message.
	UserID string `json:"UserId,omitempty"`

	// Payload is arbitrary data.
	Payload []byte `json:"Payload,omitempty"`

	// Properties are custom message properties (property bags).
	Properties map[string]string `json:"Properties,omitempty"`

	// SystemProperties are set by the hub, e.g. the sending device id.
	SystemProperties map[string]interface{} `json:"SystemProperties,omitempty"`
}

// DeviceID returns the sending device id set by the hub
// or an empty string for messages that don't carry one.
func (msg *Message) DeviceID() string {
	s, _ := msg.SystemProperties[SysConnectionDeviceID].(string)
	return s
}

// EnqueuedTime returns the time the hub received the message,
// zero when the annotation is missing.
func (msg *Message) EnqueuedTime() time.Time {
	t, _ := msg.SystemProperties[SysEnqueuedTime].(time.Time)
	return t
}

// Inspect is a human-readable message format.
func (msg *Message) Inspect() string {
	b := &bytes.Buffer{}
	b.WriteString("--- PAYLOAD -------------\n")
	if len(msg.Payload) > 0 {
		b.WriteString(fmtPayload(msg.Payload))
	} else {
		b.WriteString("[empty]")
	}
	b.WriteString("\n--- PROPERTIES ----------\n")
	if len(msg.Properties) > 0 {
		b.WriteString(fmtProps(msg.Properties))
	} else {
		b.WriteString("[empty]")
	}
	b.WriteString("\n--- SYSTEM PROPERTIES ---\n")
	if len(msg.SystemProperties) > 0 {
		m := make(map[string]string, len(msg.SystemProperties))
		for k, v := range msg.SystemProperties {
			m[k] = fmt.Sprint(v)
		}
		b.WriteString(fmtProps(m))
	} else {
		b.WriteString("[empty]")
	}
	b.WriteString("\n=========================")
	return b.String()
}

func fmtPayload(b []byte) string {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) {
			return fmt.Sprintf("[% x]", string(b))
		}
	}
	return string(b)
}

func fmtProps(m map[string]string) string {
	p := 0
	b := &bytes.Buffer{}
	o := make([]string, 0, len(m))
	for k := range m {
		if p < len(k) {
			p = len(k)
		}
		o = append(o, k)
	}
	sort.Strings(o)
	for i, k := range o {
		if i != 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(b, "%-"+fmt.Sprint(p)+"s : %s", k, fmtPayload([]byte(m[k])))
	}
	return b.String()
}
