package protocol

// InputBuffer provides an abstraction for reading incoming raw transport
// bytes before they are framed
type InputBuffer interface {
	// Data returns the available data slice
	Data() []byte

	// Available returns the number of bytes available
	Available() int

	// Pop removes n bytes from the front of the buffer
	Pop(n int)
}

// FifoBuffer is a circular staging buffer between a serial port and a
// MessageBuffer. All memory is allocated by NewFifoBuffer.
type FifoBuffer struct {
	buf    []byte
	linear []byte // contiguous view handed out by Data when wrapped
	read   int
	write  int
	size   int
}

// NewFifoBuffer creates a new FifoBuffer holding up to capacity-1 bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:    make([]byte, capacity),
		linear: make([]byte, capacity),
		size:   capacity,
	}
}

// Write appends as much of data as fits and returns the count written
func (f *FifoBuffer) Write(data []byte) int {
	written := 0
	for _, b := range data {
		nextWrite := (f.write + 1) % f.size
		if nextWrite == f.read {
			// Buffer full
			break
		}
		f.buf[f.write] = b
		f.write = nextWrite
		written++
	}
	return written
}

// Available returns the number of bytes available for reading
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Data returns the available bytes as one contiguous slice. The slice is
// only valid until the next Write or Pop.
func (f *FifoBuffer) Data() []byte {
	if f.read <= f.write {
		return f.buf[f.read:f.write]
	}
	// Wrapped: unwrap both segments into the preallocated linear view so
	// header scans see one run of bytes
	n := copy(f.linear, f.buf[f.read:])
	n += copy(f.linear[n:], f.buf[:f.write])
	return f.linear[:n]
}

// Pop removes n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	if avail := f.Available(); n > avail {
		n = avail
	}
	f.read = (f.read + n) % f.size
}

// Reset drops everything staged
func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
}
