package protocol

// ownership tracks whether a buffer is claimed by one logical operation.
// It is a single-owner guard, not a mutex.
type ownership uint8

const (
	ownershipFree ownership = iota
	ownershipClaimed
)

// DataInfo locates one data item inside a received frame
type DataInfo struct {
	Index int  // byte offset of the payload from the buffer start
	Type  byte // application-defined tag
	Len   int  // payload length in bytes
}

// MessageBuffer is a fixed-capacity frame buffer. The same instance builds
// outgoing frames (StartNewMessage ... CompleteMessage) and parses incoming
// byte streams (AddReceivedBytes ... GetData). It never grows after
// construction and is not safe for concurrent use.
type MessageBuffer struct {
	buf []byte
	pos int // write cursor

	owner ownership

	// transmit side
	started    bool
	sourceID   byte
	destID     byte
	msgType    byte
	dataCount  uint16
	packetDone bool // CompleteMessage succeeded

	// receive side
	headerPresent  bool
	headerPos      int
	scanFrom       int
	expectedLen    int // 0 until the length field has been read
	packetComplete bool
	validated      bool
	header         [HeaderLen]byte

	// item index table, filled once on successful validation
	items []DataInfo
}

// NewMessageBuffer allocates a buffer able to hold one frame of up to
// capacity bytes. Capacity is clamped to MaxFrameLen.
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > MaxFrameLen {
		capacity = MaxFrameLen
	}
	maxItems := 0
	if capacity > OverheadLen {
		maxItems = (capacity - OverheadLen) / ItemHeaderLen
	}
	return &MessageBuffer{
		buf:   make([]byte, capacity),
		items: make([]DataInfo, 0, maxItems),
	}
}

// Capacity returns the fixed size of the underlying array
func (m *MessageBuffer) Capacity() int {
	return len(m.buf)
}

// Len returns the number of valid bytes currently held
func (m *MessageBuffer) Len() int {
	return m.pos
}

// LockBuffer claims the buffer. Mutating calls fail until UnlockBuffer.
func (m *MessageBuffer) LockBuffer() {
	m.owner = ownershipClaimed
}

// UnlockBuffer releases the buffer
func (m *MessageBuffer) UnlockBuffer() {
	m.owner = ownershipFree
}

// GetLockStatus reports whether the buffer is claimed
func (m *MessageBuffer) GetLockStatus() bool {
	return m.owner == ownershipClaimed
}

// ResetBuffer returns the buffer to its just-constructed state without
// reallocating.
func (m *MessageBuffer) ResetBuffer() {
	m.pos = 0
	m.owner = ownershipFree
	m.clearTransmit()
	m.clearReceive()
}

func (m *MessageBuffer) clearTransmit() {
	m.started = false
	m.sourceID = 0
	m.destID = 0
	m.msgType = 0
	m.dataCount = 0
	m.packetDone = false
}

func (m *MessageBuffer) clearReceive() {
	m.headerPresent = false
	m.headerPos = 0
	m.scanFrom = 0
	m.expectedLen = 0
	m.packetComplete = false
	m.validated = false
	m.header = [HeaderLen]byte{}
	m.items = m.items[:0]
}

func (m *MessageBuffer) free() int {
	return len(m.buf) - m.pos
}
