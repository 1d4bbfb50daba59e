package gossip

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// NewInmemAddr returns a new in-memory addr with a randomly generated UUID as
// the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport implements the Transport interface, to allow opsmesh to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan Message
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport initializes a new transport and generates a random local
// address if none is specified.
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan Message, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    50 * time.Millisecond,
	}
	return addr, trans
}

// Listen implements the Transport interface. The in-memory transport is
// always listening.
func (i *InmemTransport) Listen() {}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Message {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// Send implements the Transport interface.
func (i *InmemTransport) Send(target string, msg Message) error {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return fmt.Errorf("failed to connect to peer: %v", target)
	}

	select {
	case peer.consumerCh <- msg:
		return nil
	case <-time.After(i.timeout):
		return fmt.Errorf("send timed out to peer: %v", target)
	}
}

// Broadcast implements the Transport interface. Send failures are swallowed;
// gossip is best-effort.
func (i *InmemTransport) Broadcast(targets []string, msg Message) {
	for _, target := range targets {
		i.Send(target, msg)
	}
}

// Connect is used to connect this transport to another transport for a given
// peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, trans Transport) {
	trans2 := trans.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans2
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close implements the Transport interface.
func (i *InmemTransport) Close() error {
	return nil
}
