package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise loopback multicast (224.0.0.0/24 is link-local scope
// and routes over loopback/lo on most test hosts) rather than a real
// network, since the suite must run without external connectivity.
const testMulticastIP = "224.0.0.251"
const testPort = 17_533

func TestSenderReceiverRoundTrip(t *testing.T) {
	receiver, err := Listen(ReceiverConfig{MulticastIP: testMulticastIP, Port: testPort})
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := Dial(SenderConfig{MulticastIP: testMulticastIP, Port: testPort, Loopback: true})
	require.NoError(t, err)
	defer sender.Close()

	payload := []byte("hello-multicast")

	done := make(chan struct{})
	var got []byte
	var recvErr error
	go func() {
		got, recvErr = receiver.Receive(2 * time.Second)
		close(done)
	}()

	// Give the receiver a moment to be scheduled and blocked on read.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sender.Send(payload))

	<-done
	require.NoError(t, recvErr)
	assert.Equal(t, payload, got)
}

func TestReceiverReceiveTimesOutWithoutError(t *testing.T) {
	receiver, err := Listen(ReceiverConfig{MulticastIP: testMulticastIP, Port: testPort + 1})
	require.NoError(t, err)
	defer receiver.Close()

	got, err := receiver.Receive(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSenderPartialOrFailedSendIsError(t *testing.T) {
	sender, err := Dial(SenderConfig{MulticastIP: testMulticastIP, Port: testPort + 2})
	require.NoError(t, err)
	sender.Close()

	err = sender.Send([]byte("after close"))
	assert.Error(t, err)
}
