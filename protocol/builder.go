package protocol

import "encoding/binary"

// StartNewMessage begins building a data frame from sourceID to destID.
// Any previous content is discarded.
func (m *MessageBuffer) StartNewMessage(sourceID, destID byte) error {
	if m.GetLockStatus() {
		return ErrBufferLocked
	}
	if len(m.buf) < OverheadLen {
		return ErrNotInitialized
	}

	m.clearTransmit()
	m.clearReceive()

	// Fixed prefix is reserved here and serialized by CompleteMessage
	m.pos = DataStartPos
	m.started = true
	m.sourceID = sourceID
	m.destID = destID
	m.msgType = packMessageType(KindData, false, AckNone)
	return nil
}

// AddACKRequest asks the receiver to acknowledge this frame
func (m *MessageBuffer) AddACKRequest() error {
	if err := m.checkBuilding(); err != nil {
		return err
	}
	m.msgType |= ackRequestBit
	return nil
}

// AddACKStatus marks the frame as a positive acknowledgment
func (m *MessageBuffer) AddACKStatus() error {
	return m.setAckStatus(AckOK)
}

// AddNACKStatus marks the frame as a negative acknowledgment
func (m *MessageBuffer) AddNACKStatus() error {
	return m.setAckStatus(AckNACK)
}

func (m *MessageBuffer) setAckStatus(status AckStatus) error {
	if err := m.checkBuilding(); err != nil {
		return err
	}
	m.msgType = m.msgType&^ackStatusMask | byte(status)
	return nil
}

func (m *MessageBuffer) setKind(kind Kind) {
	m.msgType = m.msgType&^kindMask | byte(kind)<<kindShift
}

// checkBuilding guards every builder mutation after StartNewMessage
func (m *MessageBuffer) checkBuilding() error {
	if m.GetLockStatus() {
		return ErrBufferLocked
	}
	if !m.started {
		return ErrNotStarted
	}
	if m.packetDone {
		return ErrPackageAlreadyComplete
	}
	return nil
}

// AddData appends one item. An empty payload is a valid type-only marker.
// Space for the checksum trailer is always kept free.
func (m *MessageBuffer) AddData(dataType byte, data []byte) error {
	if err := m.checkBuilding(); err != nil {
		return err
	}
	if len(data) > MaxItemLen {
		return ErrInvalidParameter
	}
	if m.dataCount == 0xFFFF || ItemHeaderLen+len(data) > m.free()-CRCLen {
		return ErrNoEnoughSpace
	}

	item := m.buf[m.pos:]
	item[DataTypePos] = dataType
	binary.BigEndian.PutUint16(item[DataLengthPos:], uint16(len(data)))
	copy(item[DataPayloadPos:], data)

	m.pos += ItemHeaderLen + len(data)
	m.dataCount++
	return nil
}

// CompleteMessage serializes the header, appends the checksum and claims
// the buffer. It must be reset (or unlocked and restarted) before reuse.
func (m *MessageBuffer) CompleteMessage() error {
	if m.packetDone {
		return ErrPackageAlreadyComplete
	}
	if m.GetLockStatus() {
		return ErrBufferLocked
	}
	if !m.started {
		return ErrNotStarted
	}

	total := m.pos + CRCLen
	copy(m.buf[HeaderPos:], magicHeader[:])
	binary.BigEndian.PutUint16(m.buf[MessageLengthPos:], uint16(total))
	m.buf[SourceIDPos] = m.sourceID
	m.buf[DestinationIDPos] = m.destID
	m.buf[MessageTypePos] = m.msgType
	binary.BigEndian.PutUint16(m.buf[DataCountPos:], m.dataCount)

	crc := CRC16(m.buf[:m.pos])
	binary.BigEndian.PutUint16(m.buf[m.pos:], crc)
	m.pos = total

	m.packetDone = true
	m.LockBuffer()

	// A completed frame reads back like a received one
	m.headerPresent = true
	m.headerPos = HeaderPos
	m.header = magicHeader
	m.expectedLen = total
	m.packetComplete = true
	return nil
}

// GetSendPacket copies the completed frame into dst and returns its length
func (m *MessageBuffer) GetSendPacket(dst []byte) (int, error) {
	if !m.packetDone {
		return 0, ErrPackageNotComplete
	}
	if len(dst) < m.pos {
		return 0, ErrNoEnoughSpace
	}
	return copy(dst, m.buf[:m.pos]), nil
}

// GenerateAckMessage builds a complete ack-only frame with ACK status
func (m *MessageBuffer) GenerateAckMessage(sourceID, destID byte) error {
	return m.generateControl(sourceID, destID, m.AddACKStatus)
}

// GenerateNackMessage builds a complete ack-only frame with NACK status
func (m *MessageBuffer) GenerateNackMessage(sourceID, destID byte) error {
	return m.generateControl(sourceID, destID, m.AddNACKStatus)
}

func (m *MessageBuffer) generateControl(sourceID, destID byte, status func() error) error {
	if err := m.StartNewMessage(sourceID, destID); err != nil {
		return err
	}
	m.setKind(KindAckOnly)
	if err := status(); err != nil {
		return err
	}
	return m.CompleteMessage()
}
