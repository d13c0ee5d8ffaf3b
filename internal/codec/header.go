// Package codec implements the two-layer wire framing used by every
// outbound packet: a 20-byte transport header (L1) and an 8-byte SBE-style
// message header (L2), followed by a template-specific body.
package codec

import (
	"encoding/binary"

	"github.com/fxmdfeed/reutersfeed/pkg/apperrors"
)

// L1HeaderSize is the fixed size of the transport packet header.
const L1HeaderSize = 20

// L2HeaderSize is the fixed size of the SBE-style message header.
const L2HeaderSize = 8

// SchemaID is the constant schema identifier carried by every message.
const SchemaID uint16 = 101

// SchemaVersion is the constant schema version carried by every message.
const SchemaVersion uint16 = 1

// Template IDs for the message bodies this codec knows how to build.
const (
	TemplateHeartbeat                  uint16 = 1
	TemplateSecurityDefinition         uint16 = 18
	TemplateMDFullRefresh              uint16 = 20
	TemplateMDIncrementalRefresh       uint16 = 21
	TemplateMDIncrementalRefreshTrades uint16 = 111
)

// L1Header is the transport packet header prepended to every outbound
// packet by the publisher.
type L1Header struct {
	MsgSeqNum     uint64
	SendingTimeNs uint64
	HdrLen        uint8
	HdrVer        uint8
	PacketLen     uint16
}

// PutL1Header encodes h into the first L1HeaderSize bytes of dst.
func PutL1Header(dst []byte, h L1Header) {
	_ = dst[L1HeaderSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], h.MsgSeqNum)
	binary.LittleEndian.PutUint64(dst[8:16], h.SendingTimeNs)
	dst[16] = h.HdrLen
	dst[17] = h.HdrVer
	binary.LittleEndian.PutUint16(dst[18:20], h.PacketLen)
}

// DecodeL1Header parses the transport header from the front of buf.
func DecodeL1Header(buf []byte) (L1Header, error) {
	if len(buf) < L1HeaderSize {
		return L1Header{}, apperrors.Newf(apperrors.ErrTruncatedHeader, "buffer of %d bytes shorter than L1 header (%d)", len(buf), L1HeaderSize)
	}
	h := L1Header{
		MsgSeqNum:     binary.LittleEndian.Uint64(buf[0:8]),
		SendingTimeNs: binary.LittleEndian.Uint64(buf[8:16]),
		HdrLen:        buf[16],
		HdrVer:        buf[17],
		PacketLen:     binary.LittleEndian.Uint16(buf[18:20]),
	}
	if h.HdrLen != L1HeaderSize || h.HdrVer != 1 {
		return L1Header{}, apperrors.Newf(apperrors.ErrBadEndianness, "unexpected L1 header (hdr_len=%d hdr_ver=%d)", h.HdrLen, h.HdrVer)
	}
	return h, nil
}

// MessageHeader is the SBE-style layer-2 header immediately following L1.
type MessageHeader struct {
	BlockLength uint16
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
}

// PutMessageHeader encodes h into the first L2HeaderSize bytes of dst.
func PutMessageHeader(dst []byte, h MessageHeader) {
	_ = dst[L2HeaderSize-1]
	binary.LittleEndian.PutUint16(dst[0:2], h.BlockLength)
	binary.LittleEndian.PutUint16(dst[2:4], h.TemplateID)
	binary.LittleEndian.PutUint16(dst[4:6], h.SchemaID)
	binary.LittleEndian.PutUint16(dst[6:8], h.Version)
}

// DecodeMessageHeader parses the L2 header from the front of buf.
func DecodeMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < L2HeaderSize {
		return MessageHeader{}, apperrors.Newf(apperrors.ErrTruncatedHeader, "buffer of %d bytes shorter than L2 header (%d)", len(buf), L2HeaderSize)
	}
	h := MessageHeader{
		BlockLength: binary.LittleEndian.Uint16(buf[0:2]),
		TemplateID:  binary.LittleEndian.Uint16(buf[2:4]),
		SchemaID:    binary.LittleEndian.Uint16(buf[4:6]),
		Version:     binary.LittleEndian.Uint16(buf[6:8]),
	}
	if h.SchemaID != SchemaID {
		return MessageHeader{}, apperrors.Newf(apperrors.ErrUnknownTemplate, "unexpected schema id %d", h.SchemaID)
	}
	return h, nil
}

// GroupHeaderSize is the fixed size of a repeating-group header.
const GroupHeaderSize = 4

// GroupHeader precedes every repeating group's entries.
type GroupHeader struct {
	BlockLength uint16
	NumInGroup  uint16
}

// PutGroupHeader encodes h into the first GroupHeaderSize bytes of dst.
func PutGroupHeader(dst []byte, h GroupHeader) {
	_ = dst[GroupHeaderSize-1]
	binary.LittleEndian.PutUint16(dst[0:2], h.BlockLength)
	binary.LittleEndian.PutUint16(dst[2:4], h.NumInGroup)
}

// DecodeGroupHeader parses a repeating-group header from the front of buf.
func DecodeGroupHeader(buf []byte) (GroupHeader, error) {
	if len(buf) < GroupHeaderSize {
		return GroupHeader{}, apperrors.Newf(apperrors.ErrTruncatedHeader, "buffer of %d bytes shorter than group header (%d)", len(buf), GroupHeaderSize)
	}
	return GroupHeader{
		BlockLength: binary.LittleEndian.Uint16(buf[0:2]),
		NumInGroup:  binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}
