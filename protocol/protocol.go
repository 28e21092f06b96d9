// Package protocol implements the atcomm point-to-point message framing
// layer: a fixed-capacity message buffer that builds outgoing frames and
// incrementally parses incoming ones.
//
// Frame layout (multi-byte fields are big-endian):
//
//	magic(5) | length(2) | source(1) | destination(1) | type(1) | count(2) | items... | crc(2)
//
// Each data item is type(1) | length(2) | payload(length).
package protocol

// Version represents the atcomm wire protocol version
const Version = "0.1.0"

// Magic header bytes
const (
	Header0 = 0x55
	Header1 = 'A'
	Header2 = 'T'
	Header3 = 'C'
	Header4 = 0x3A
)

var magicHeader = [HeaderLen]byte{Header0, Header1, Header2, Header3, Header4}

// Frame layout constants
const (
	HeaderPos = 0
	HeaderLen = 5

	MessageLengthPos = HeaderPos + HeaderLen
	MessageLengthLen = 2

	SourceIDPos      = MessageLengthPos + MessageLengthLen
	DestinationIDPos = SourceIDPos + 1
	MessageTypePos   = DestinationIDPos + 1
	DataCountPos     = MessageTypePos + 1
	DataCountLen     = 2
	DataStartPos     = DataCountPos + DataCountLen

	FullHeaderLen = DataStartPos
	CRCLen        = 2
	OverheadLen   = FullHeaderLen + CRCLen

	// MaxFrameLen is bounded by the 16-bit length field
	MaxFrameLen = 0xFFFF
)

// Data item layout, relative to the start of the item
const (
	DataTypePos    = 0
	DataLengthPos  = DataTypePos + 1
	DataLengthLen  = 2
	DataPayloadPos = DataLengthPos + DataLengthLen
	ItemHeaderLen  = DataPayloadPos

	MaxItemLen = 0xFFFF
)

// Message type byte:
//
//	[b7 b6 b5 b4]  kind
//	[b3]           reserved
//	[b2]           ack request
//	[b1 b0]        ack status
const (
	ackStatusMask = 0x03
	ackRequestBit = 0x04
	kindShift     = 4
	kindMask      = 0xF0
)

// AckStatus is the acknowledgment code carried in the low bits of the
// message type byte.
type AckStatus uint8

const (
	AckNone AckStatus = 0x00
	AckOK   AckStatus = 0x01
	AckNACK AckStatus = 0x02
)

func (s AckStatus) String() string {
	switch s {
	case AckNone:
		return "none"
	case AckOK:
		return "ack"
	case AckNACK:
		return "nack"
	default:
		return "invalid"
	}
}

// Kind discriminates frames carrying data from pure control frames.
type Kind uint8

const (
	KindUndefined Kind = 0x00
	KindAckOnly   Kind = 0x01
	KindData      Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindAckOnly:
		return "ack-only"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// packMessageType assembles the message type byte
func packMessageType(kind Kind, ackRequest bool, status AckStatus) byte {
	b := byte(kind)<<kindShift | byte(status)&ackStatusMask
	if ackRequest {
		b |= ackRequestBit
	}
	return b
}

func unpackKind(b byte) Kind {
	return Kind((b & kindMask) >> kindShift)
}

func unpackAckStatus(b byte) AckStatus {
	return AckStatus(b & ackStatusMask)
}

func unpackAckRequest(b byte) bool {
	return b&ackRequestBit != 0
}
