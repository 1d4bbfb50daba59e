package gossip

import (
	"testing"
	"time"

	"github.com/opsmesh/opsmesh/src/common"
)

func TestTCPTransportSend(t *testing.T) {
	logger := common.NewTestEntry(t)

	receiver, err := NewTCPTransport("127.0.0.1:0", time.Second, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer receiver.Close()
	receiver.Listen()

	sender, err := NewTCPTransport("127.0.0.1:0", time.Second, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer sender.Close()

	msg := Message{
		Type:      HeartbeatMsg,
		SenderID:  "0XABC",
		PubKeyHex: "0XDEF",
		Payload:   []byte(`{"peer_id":"0XABC"}`),
		Signature: "sig",
		SentAt:    time.Now().UTC(),
	}

	if err := sender.Send(receiver.LocalAddr(), msg); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case got := <-receiver.Consumer():
		if got.SenderID != msg.SenderID || got.Type != msg.Type {
			t.Fatalf("unexpected message: %+v", got)
		}
		if string(got.Payload) != string(msg.Payload) {
			t.Fatalf("payload corrupted: %s", got.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("message never arrived")
	}
}

func TestTCPTransportBindFailure(t *testing.T) {
	logger := common.NewTestEntry(t)

	if _, err := NewTCPTransport("999.999.999.999:1", time.Second, logger); err == nil {
		t.Fatalf("unbindable address should be a startup error")
	}
}
