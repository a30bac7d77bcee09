package common

import (
	"crypto/tls"
	"net"

	"golang.org/x/net/websocket"
)

// amqpSubprotocol is the WebSocket subprotocol carrying AMQP 1.0 frames.
const amqpSubprotocol = "AMQPWSB10"

// DialWebSocket opens a WebSocket tunnel to the named broker on port 443.
// The returned connection is suitable for an AMQP client on networks
// where the plain AMQP-over-TLS port is filtered.
func DialWebSocket(host string, tc *tls.Config) (net.Conn, error) {
	cfg, err := websocket.NewConfig(
		"wss://"+host+":443/$servicebus/websocket",
		"https://"+host,
	)
	if err != nil {
		return nil, err
	}
	cfg.Protocol = []string{amqpSubprotocol}
	cfg.TlsConfig = tc

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}
