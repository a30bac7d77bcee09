package commonamqp

import (
	"fmt"

	"github.com/telemetry-tools/hubtap/common"
	"pack.ag/amqp"
)

// FromAMQPMessage converts an amqp.Message into a common.Message.
//
// Payload, application properties and hub annotations pass through
// unchanged, annotation keys are stringified for the system bag.
func FromAMQPMessage(msg *amqp.Message) *common.Message {
	m := &common.Message{
		Properties:       make(map[string]string, len(msg.ApplicationProperties)),
		SystemProperties: make(map[string]interface{}, len(msg.Annotations)),
	}
	if len(msg.Data) > 0 {
		m.Payload = msg.Data[0]
	}
	if msg.Properties != nil {
		m.UserID = string(msg.Properties.UserID)
		if s, ok := msg.Properties.MessageID.(string); ok {
			m.MessageID = s
		}
		if s, ok := msg.Properties.CorrelationID.(string); ok {
			m.CorrelationID = s
		}
	}
	for k, v := range msg.Annotations {
		switch k := k.(type) {
		case string:
			m.SystemProperties[k] = v
		default:
			m.SystemProperties[fmt.Sprint(k)] = v
		}
	}
	for k, v := range msg.ApplicationProperties {
		m.Properties[k] = fmt.Sprint(v)
	}
	return m
}
