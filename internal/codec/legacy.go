package codec

import (
	"encoding/binary"

	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// LegacyHeaderSize is the size of the pre-L1 multicast header kept only for
// the end-of-conflation marker; every other packet uses the L1/L2 framing.
const LegacyHeaderSize = 23

// Legacy flag bits.
const (
	LegacyFlagRetransmission uint8 = 0x01
	LegacyFlagEndOfStream    uint8 = 0x02
)

// LegacyHeader is the superseded 23-byte multicast sequencing header. It is
// carried only by the shutdown end-of-conflation packet, for consumers that
// still look for it; every other message uses the L1 header instead.
type LegacyHeader struct {
	SequenceNumber uint64
	ChannelID      uint32
	SendTimeNs     uint64
	MessageCount   uint16
	Flags          uint8
}

// PutLegacyHeader encodes h into the first LegacyHeaderSize bytes of dst.
func PutLegacyHeader(dst []byte, h LegacyHeader) {
	_ = dst[LegacyHeaderSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], h.SequenceNumber)
	binary.LittleEndian.PutUint32(dst[8:12], h.ChannelID)
	binary.LittleEndian.PutUint64(dst[12:20], h.SendTimeNs)
	binary.LittleEndian.PutUint16(dst[20:22], h.MessageCount)
	dst[22] = h.Flags
}

// DecodeLegacyHeader parses a legacy header from the front of buf.
func DecodeLegacyHeader(buf []byte) (LegacyHeader, error) {
	if len(buf) < LegacyHeaderSize {
		return LegacyHeader{}, apperrors.Newf(apperrors.ErrTruncatedHeader, "buffer of %d bytes shorter than legacy header (%d)", len(buf), LegacyHeaderSize)
	}
	return LegacyHeader{
		SequenceNumber: binary.LittleEndian.Uint64(buf[0:8]),
		ChannelID:      binary.LittleEndian.Uint32(buf[8:12]),
		SendTimeNs:     binary.LittleEndian.Uint64(buf[12:20]),
		MessageCount:   binary.LittleEndian.Uint16(buf[20:22]),
		Flags:          buf[22],
	}, nil
}

// BuildEndOfConflationPacket builds the header-only, legacy-format
// end-of-stream marker sent on channel 0 A/B at shutdown.
func BuildEndOfConflationPacket(sequenceNumber uint64, channelID uint32, sendTimeNs uint64) []byte {
	buf := make([]byte, LegacyHeaderSize)
	PutLegacyHeader(buf, LegacyHeader{
		SequenceNumber: sequenceNumber,
		ChannelID:      channelID,
		SendTimeNs:     sendTimeNs,
		MessageCount:   0,
		Flags:          LegacyFlagEndOfStream,
	})
	return buf
}
