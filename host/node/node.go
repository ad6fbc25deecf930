// Package node manages a session with one NadaMQ peer
package node

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Vigne-hub/nadamq/host/logging"
	"github.com/Vigne-hub/nadamq/host/serial"
	"github.com/Vigne-hub/nadamq/host/transport"
	"github.com/Vigne-hub/nadamq/protocol"
)

var log = logging.For("node")

// Node represents a connection to a NadaMQ peer
type Node struct {
	// Transport layer
	transport *transport.Transport

	// Serial port
	port serial.Port

	// Identity reported by the peer, empty until Identify succeeds
	identity protocol.Identity

	timeout    time.Duration
	parserOpts []protocol.ParserOption

	// Connection state
	connected bool
}

// Option configures a Node
type Option func(*Node)

// WithTimeout sets the response timeout for requests
func WithTimeout(d time.Duration) Option {
	return func(n *Node) {
		n.timeout = d
	}
}

// WithParserOptions configures the parser used on the receive path
func WithParserOptions(opts ...protocol.ParserOption) Option {
	return func(n *Node) {
		n.parserOpts = append(n.parserOpts, opts...)
	}
}

// New creates a Node instance (not yet connected)
func New(opts ...Option) *Node {
	n := &Node{timeout: transport.DefaultTimeout}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Connect connects to a peer via serial port
func (n *Node) Connect(device string) error {
	return n.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to a peer with a custom serial config
func (n *Node) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	n.Attach(port)
	log.Info("connected to %s at %d baud", cfg.Device, cfg.Baud)

	// Give the peer time to initialize (boards reset when the port opens)
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Attach starts a session on an already open port
func (n *Node) Attach(port serial.Port) {
	n.port = port
	n.transport = transport.New(port, transport.WithParserOptions(n.parserOpts...))
	n.connected = true

	n.transport.SetPacketHandler(n.handlePacket)
}

// Close closes the connection to the peer
func (n *Node) Close() error {
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			return err
		}
	}
	n.connected = false
	return nil
}

// Identify asks the peer for its identity
func (n *Node) Identify() (protocol.Identity, error) {
	if !n.connected {
		return protocol.Identity{}, fmt.Errorf("not connected to peer")
	}

	resp, err := n.transport.Request(protocol.NewPacket(0, protocol.TypeIDRequest, nil), n.timeout)
	if err != nil {
		return protocol.Identity{}, fmt.Errorf("failed to identify peer: %w", err)
	}
	if resp.Type() != protocol.TypeIDResponse {
		return protocol.Identity{}, fmt.Errorf("unexpected response type %s (expected %s)", resp.Type(), protocol.TypeIDResponse)
	}

	payload, err := resp.Payload()
	if err != nil {
		return protocol.Identity{}, fmt.Errorf("identify response: %w", err)
	}

	var identity protocol.Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return protocol.Identity{}, fmt.Errorf("failed to unmarshal identity: %w", err)
	}

	n.identity = identity
	log.Debug("peer identified as %q", identity.ID)
	return identity, nil
}

// SendData sends a DATA packet and waits for the peer to acknowledge it.
// A data reply is returned as is; an ACK returns nil.
func (n *Node) SendData(payload []byte) (*protocol.Packet, error) {
	if !n.connected {
		return nil, fmt.Errorf("not connected to peer")
	}

	resp, err := n.transport.Request(protocol.NewPacket(0, protocol.TypeData, payload), n.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to send data: %w", err)
	}
	if resp.Type() == protocol.TypeAck {
		return nil, nil
	}
	return resp, nil
}

// Receive waits for the next unsolicited packet from the peer
func (n *Node) Receive(timeout time.Duration) (*protocol.Packet, error) {
	if !n.connected {
		return nil, fmt.Errorf("not connected to peer")
	}
	return n.transport.Receive(timeout)
}

// handlePacket logs unsolicited packets (async callback)
func (n *Node) handlePacket(p *protocol.Packet) {
	log.Debug("unsolicited %v", p)
}

// Identity returns the last identity reported by the peer
func (n *Node) Identity() protocol.Identity {
	return n.identity
}

// Stats returns the transport counters
func (n *Node) Stats() transport.Stats {
	if n.transport == nil {
		return transport.Stats{}
	}
	return n.transport.Stats()
}

// IsConnected returns whether the peer is connected
func (n *Node) IsConnected() bool {
	return n.connected
}
