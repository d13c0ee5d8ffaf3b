package codec

import (
	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// MaxUDPPayload is the largest payload a single IPv4 UDP datagram can carry
// (65535 minus the 20-byte IP header and the 8-byte UDP header).
const MaxUDPPayload = 65507

// DefaultMaxMessageSize is the default cap the encoder enforces on a single
// L2 message (message header + fixed block + repeating groups), independent
// of the MaxUDPPayload ceiling.
const DefaultMaxMessageSize = 64 * 1024

// BuildMessage assembles an L2 header followed by body into a single
// buffer, and validates it against maxMessageSize.
func BuildMessage(templateID uint16, blockLength uint16, body []byte, maxMessageSize int) ([]byte, error) {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	total := L2HeaderSize + len(body)
	if total > maxMessageSize {
		return nil, apperrors.Newf(apperrors.ErrMessageTooLarge, "message of %d bytes exceeds cap of %d", total, maxMessageSize)
	}

	buf := make([]byte, total)
	PutMessageHeader(buf[:L2HeaderSize], MessageHeader{
		BlockLength: blockLength,
		TemplateID:  templateID,
		SchemaID:    SchemaID,
		Version:     SchemaVersion,
	})
	copy(buf[L2HeaderSize:], body)
	return buf, nil
}

// WrapPacket prepends the L1 transport header to an already-built L2
// message, producing the final on-wire packet. It validates the combined
// size against MaxUDPPayload.
func WrapPacket(msgSeqNum uint64, sendingTimeNs uint64, message []byte) ([]byte, error) {
	total := L1HeaderSize + len(message)
	if total > MaxUDPPayload {
		return nil, apperrors.Newf(apperrors.ErrMessageTooLarge, "packet of %d bytes exceeds UDP payload limit %d", total, MaxUDPPayload)
	}

	packet := make([]byte, total)
	PutL1Header(packet[:L1HeaderSize], L1Header{
		MsgSeqNum:     msgSeqNum,
		SendingTimeNs: sendingTimeNs,
		HdrLen:        L1HeaderSize,
		HdrVer:        1,
		PacketLen:     uint16(total),
	})
	copy(packet[L1HeaderSize:], message)
	return packet, nil
}

// DecodedPacket is the parsed view of an inbound packet: both headers plus
// the raw body bytes, ready for template-specific decoding.
type DecodedPacket struct {
	L1   L1Header
	L2   MessageHeader
	Body []byte
}

// DecodePacket parses the L1 and L2 headers from buf and returns the
// remaining body bytes for template-specific decoding.
func DecodePacket(buf []byte) (DecodedPacket, error) {
	l1, err := DecodeL1Header(buf)
	if err != nil {
		return DecodedPacket{}, err
	}
	if int(l1.PacketLen) != len(buf) {
		return DecodedPacket{}, apperrors.Newf(apperrors.ErrTruncatedHeader, "packet_len %d does not match received length %d", l1.PacketLen, len(buf))
	}

	l2, err := DecodeMessageHeader(buf[L1HeaderSize:])
	if err != nil {
		return DecodedPacket{}, err
	}

	return DecodedPacket{
		L1:   l1,
		L2:   l2,
		Body: buf[L1HeaderSize+L2HeaderSize:],
	}, nil
}
