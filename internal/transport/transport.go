// Package transport implements the UDP multicast sender/receiver roles: one
// logical transport object per socket. A receive waits at most as long as
// the caller's read deadline (see Receiver.Receive).
package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// DefaultTTL is the multicast hop limit a sender uses unless configured
// otherwise.
const DefaultTTL = 1

// DefaultSendBufferBytes is the socket send-buffer size a sender requests
// unless configured otherwise.
const DefaultSendBufferBytes = 1 << 20 // 1 MiB

// DefaultReceiveBufferBytes is the socket receive-buffer size a receiver
// requests unless configured otherwise.
const DefaultReceiveBufferBytes = 8 << 20 // 8 MiB

// SenderConfig configures Dial.
type SenderConfig struct {
	MulticastIP string
	Port        uint16
	InterfaceIP string
	TTL         int  // 0 means DefaultTTL
	Loopback    bool // deliver sent packets to local receivers on the same host
	SendBuffer  int  // 0 means DefaultSendBufferBytes
}

// Sender is a transport bound to one multicast destination.
type Sender struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	dst  *net.UDPAddr
}

// Dial creates a sender: binds a datagram socket, sets TTL and multicast
// loopback, sizes the send buffer, and remembers the destination address.
func Dial(cfg SenderConfig) (*Sender, error) {
	dst, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.MulticastIP, cfg.Port))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "resolving multicast destination "+cfg.MulticastIP)
	}

	var laddr *net.UDPAddr
	if cfg.InterfaceIP != "" && cfg.InterfaceIP != "0.0.0.0" {
		laddr = &net.UDPAddr{IP: net.ParseIP(cfg.InterfaceIP)}
	}

	conn, err := net.DialUDP("udp4", laddr, dst)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "dialing multicast destination "+cfg.MulticastIP)
	}

	pc := ipv4.NewPacketConn(conn)

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "setting multicast TTL")
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "setting multicast loopback")
	}

	sendBuffer := cfg.SendBuffer
	if sendBuffer == 0 {
		sendBuffer = DefaultSendBufferBytes
	}
	if err := conn.SetWriteBuffer(sendBuffer); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "setting send buffer size")
	}

	return &Sender{conn: conn, pc: pc, dst: dst}, nil
}

// Send transmits packet as a single datagram. A partial write is treated as
// fatal, matching UDP's all-or-nothing datagram semantics.
func (s *Sender) Send(packet []byte) error {
	n, err := s.conn.Write(packet)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSend, "sending datagram")
	}
	if n != len(packet) {
		return apperrors.Newf(apperrors.ErrSend, "partial send: wrote %d of %d bytes", n, len(packet))
	}
	return nil
}

// Close releases the underlying socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// ReceiverConfig configures Listen.
type ReceiverConfig struct {
	MulticastIP string
	Port        uint16
	InterfaceIP string
	RecvBuffer  int // 0 means DefaultReceiveBufferBytes
}

// Receiver is a transport bound to one multicast group, joined on a chosen
// interface.
type Receiver struct {
	conn *net.UDPConn
}

// Listen binds to port with address reuse implied by ListenMulticastUDP and
// joins the group on the chosen interface (nil interface means the kernel
// picks one).
func Listen(cfg ReceiverConfig) (*Receiver, error) {
	groupAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.MulticastIP, cfg.Port))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "resolving multicast group "+cfg.MulticastIP)
	}

	var iface *net.Interface
	if cfg.InterfaceIP != "" && cfg.InterfaceIP != "0.0.0.0" {
		iface, err = interfaceForIP(cfg.InterfaceIP)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrJoinGroup, "resolving interface for "+cfg.InterfaceIP)
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, groupAddr)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrSocketBind, "binding and joining multicast group "+cfg.MulticastIP)
	}

	recvBuffer := cfg.RecvBuffer
	if recvBuffer == 0 {
		recvBuffer = DefaultReceiveBufferBytes
	}
	if err := conn.SetReadBuffer(recvBuffer); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrSocketCreate, "setting receive buffer size")
	}

	return &Receiver{conn: conn}, nil
}

func interfaceForIP(ip string) (*net.Interface, error) {
	want := net.ParseIP(ip)
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.Equal(want) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no local interface has address %s", ip)
}

// Receive reads one datagram. A positive deadline bounds how long the read
// may wait, and a timeout returns an empty buffer and no error. A zero
// deadline sets no new deadline: the read blocks until a datagram arrives,
// or times out at once if a deadline set by an earlier call has passed.
func (r *Receiver) Receive(deadline time.Duration) ([]byte, error) {
	if deadline > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrReceive, "setting read deadline")
		}
	}

	buf := make([]byte, 65535)
	n, _, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrReceive, "reading datagram")
	}
	return buf[:n], nil
}

// Close releases the underlying socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
