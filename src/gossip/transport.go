// Package gossip implements peer discovery, liveness, and signed best-effort
// dissemination of state between peers. The wire transport is abstracted
// behind the Transport interface; the engine only deals in signed Message
// envelopes.
package gossip

// Transport provides an abstract send/receive/broadcast capability for gossip
// messages between nodes. Delivery is best-effort.
type Transport interface {
	// Listen starts the transport listening.
	Listen()

	// Consumer returns a channel from which inbound messages are consumed.
	Consumer() <-chan Message

	// LocalAddr returns our local address, as advertised to peers.
	LocalAddr() string

	// Send delivers a message to the named endpoint.
	Send(target string, msg Message) error

	// Broadcast delivers a message to every endpoint in targets, best-effort:
	// individual failures do not interrupt the rest of the fan-out.
	Broadcast(targets []string, msg Message)

	// Close permanently closes the transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}
