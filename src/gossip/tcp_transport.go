package gossip

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// TCPTransport is a fire-and-forget Transport over TCP: every message is one
// short-lived connection carrying one codec-encoded envelope. Gossip is
// best-effort, so there are no acknowledgements and no retries.
type TCPTransport struct {
	listener   net.Listener
	consumerCh chan Message
	timeout    time.Duration
	logger     *logrus.Entry

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewTCPTransport binds a listener on bindAddr. A malformed or unbindable
// address is a startup error.
func NewTCPTransport(bindAddr string, timeout time.Duration, logger *logrus.Entry) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	return &TCPTransport{
		listener:   listener,
		consumerCh: make(chan Message, 16),
		timeout:    timeout,
		logger:     logger.WithField("component", "tcp_transport"),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Listen implements the Transport interface.
func (t *TCPTransport) Listen() {
	go t.acceptLoop()
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.shutdownCh:
				return
			default:
				t.logger.WithError(err).Error("Accepting connection")
				continue
			}
		}

		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(t.timeout))

	var msg Message
	dec := codec.NewDecoder(conn, newJSONHandle())
	if err := dec.Decode(&msg); err != nil {
		t.logger.WithError(err).Debug("Decoding inbound message")
		return
	}

	select {
	case t.consumerCh <- msg:
	case <-time.After(t.timeout):
		t.logger.Debug("Consumer backlogged, dropping message")
	case <-t.shutdownCh:
	}
}

// Consumer implements the Transport interface.
func (t *TCPTransport) Consumer() <-chan Message {
	return t.consumerCh
}

// LocalAddr implements the Transport interface.
func (t *TCPTransport) LocalAddr() string {
	return t.listener.Addr().String()
}

// Send implements the Transport interface.
func (t *TCPTransport) Send(target string, msg Message) error {
	conn, err := net.DialTimeout("tcp", target, t.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(t.timeout))

	enc := codec.NewEncoder(conn, newJSONHandle())
	return enc.Encode(msg)
}

// Broadcast implements the Transport interface. Individual send failures are
// logged at debug level and do not interrupt the fan-out.
func (t *TCPTransport) Broadcast(targets []string, msg Message) {
	for _, target := range targets {
		if err := t.Send(target, msg); err != nil {
			t.logger.WithError(err).WithField("target", target).Debug("Broadcast send failed")
		}
	}
}

// Close implements the Transport interface.
func (t *TCPTransport) Close() error {
	var err error
	t.shutdownOnce.Do(func() {
		close(t.shutdownCh)
		err = t.listener.Close()
	})
	return err
}

func newJSONHandle() *codec.JsonHandle {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return jh
}
