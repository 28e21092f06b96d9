// Package link drives a protocol.MessageBuffer over a byte stream such as a
// serial port: it frames outgoing messages, pulls frames out of the noisy
// incoming stream, answers ACK requests and reports ACK/NACK outcomes.
// Retransmission is left to the caller.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"atcomm/protocol"
)

var (
	ErrClosed = errors.New("link: closed")
	ErrNacked = errors.New("link: peer answered NACK")
)

// flusher is implemented by ports that can drop bytes held by the driver,
// such as *serial.NativePort
type flusher interface {
	Flush() error
}

// Config describes one end of a point-to-point link
type Config struct {
	LocalID    byte
	PeerID     byte
	BufferSize int           // frame capacity of the receive and transmit buffers
	AckTimeout time.Duration // default wait in SendWithAck when ctx has no deadline
	AutoAck    bool          // ACK frames that request it, NACK corrupted frames
	QueueDepth int           // received messages kept for Receive
}

// Item is one typed data item of a message
type Item struct {
	Type    byte
	Payload []byte
}

// Message is a decoded copy of a received frame
type Message struct {
	Source       byte
	Destination  byte
	Kind         protocol.Kind
	AckStatus    protocol.AckStatus
	AckRequested bool
	Items        []Item
}

// Stats counts link activity since New
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	FramesInvalid   uint64
	FramesForeign   uint64
	BytesDiscarded  uint64
	AcksReceived    uint64
	NacksReceived   uint64
	MessagesDropped uint64
}

type counters struct {
	framesSent      atomic.Uint64
	framesReceived  atomic.Uint64
	framesInvalid   atomic.Uint64
	framesForeign   atomic.Uint64
	bytesDiscarded  atomic.Uint64
	acksReceived    atomic.Uint64
	nacksReceived   atomic.Uint64
	messagesDropped atomic.Uint64
}

// Link owns one receive buffer (used only by the read goroutine) and one
// transmit buffer (guarded by writeMutex).
type Link struct {
	port io.ReadWriteCloser
	cfg  Config
	log  zerolog.Logger

	// Receive side
	input   *protocol.FifoBuffer
	rx      *protocol.MessageBuffer
	readBuf []byte

	// Transmit side
	writeMutex sync.Mutex
	tx         *protocol.MessageBuffer
	txBuf      []byte

	// One SendWithAck waits at a time
	ackMutex sync.Mutex
	ackChan  chan *Message
	msgChan  chan *Message

	handlers *HandlerRegistry
	stats    counters

	closeOnce sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// New starts a link over port. The link owns port and closes it on Close.
// A port that can Flush is flushed first so stale bytes from before the
// link came up are never parsed.
func New(port io.ReadWriteCloser, cfg Config, log zerolog.Logger) *Link {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}

	l := &Link{
		port:     port,
		cfg:      cfg,
		log:      log.With().Str("component", "link").Uint8("local", cfg.LocalID).Logger(),
		input:    protocol.NewFifoBuffer(2*cfg.BufferSize + 1),
		rx:       protocol.NewMessageBuffer(cfg.BufferSize),
		readBuf:  make([]byte, 256),
		tx:       protocol.NewMessageBuffer(cfg.BufferSize),
		txBuf:    make([]byte, cfg.BufferSize),
		ackChan:  make(chan *Message, 1),
		msgChan:  make(chan *Message, cfg.QueueDepth),
		handlers: NewHandlerRegistry(),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	if f, ok := port.(flusher); ok {
		if err := f.Flush(); err != nil {
			l.log.Warn().Err(err).Msg("failed to flush port")
		}
	}

	go l.readLoop()
	return l
}

// Handle registers handler for received items of dataType
func (l *Link) Handle(dataType byte, handler ItemHandler) {
	l.handlers.Register(dataType, handler)
}

// HandleDefault registers handler for items with no specific handler
func (l *Link) HandleDefault(handler ItemHandler) {
	l.handlers.SetFallback(handler)
}

// Send frames items to dst and writes the frame to the port
func (l *Link) Send(dst byte, ackRequest bool, items ...Item) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	l.tx.ResetBuffer()
	if err := l.tx.StartNewMessage(l.cfg.LocalID, dst); err != nil {
		return fmt.Errorf("start message: %w", err)
	}
	for i, item := range items {
		if err := l.tx.AddData(item.Type, item.Payload); err != nil {
			return fmt.Errorf("add item %d (type %d, %d bytes): %w", i, item.Type, len(item.Payload), err)
		}
	}
	if ackRequest {
		if err := l.tx.AddACKRequest(); err != nil {
			return fmt.Errorf("request ack: %w", err)
		}
	}
	if err := l.tx.CompleteMessage(); err != nil {
		return fmt.Errorf("complete message: %w", err)
	}
	return l.flushTx("data")
}

// SendAck writes an ack-only ACK frame to dst
func (l *Link) SendAck(dst byte) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	l.tx.ResetBuffer()
	if err := l.tx.GenerateAckMessage(l.cfg.LocalID, dst); err != nil {
		return fmt.Errorf("generate ack: %w", err)
	}
	return l.flushTx("ack")
}

// SendNack writes an ack-only NACK frame to dst
func (l *Link) SendNack(dst byte) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	l.tx.ResetBuffer()
	if err := l.tx.GenerateNackMessage(l.cfg.LocalID, dst); err != nil {
		return fmt.Errorf("generate nack: %w", err)
	}
	return l.flushTx("nack")
}

// flushTx writes the completed transmit buffer. Must be called with
// writeMutex held.
func (l *Link) flushTx(kind string) error {
	select {
	case <-l.stopChan:
		return ErrClosed
	default:
	}

	n, err := l.tx.GetSendPacket(l.txBuf)
	if err != nil {
		return fmt.Errorf("get send packet: %w", err)
	}

	written, err := l.port.Write(l.txBuf[:n])
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if written != n {
		return fmt.Errorf("incomplete write: %d/%d bytes", written, n)
	}

	l.stats.framesSent.Add(1)
	recordFrameSent(l.cfg.LocalID, kind)
	l.log.Trace().Str("kind", kind).Int("len", n).Msg("frame sent")
	return nil
}

// SendWithAck sends items to dst with an ACK request and waits for the
// answer: nil on ACK, ErrNacked on NACK, or the context error. When ctx has
// no deadline the configured AckTimeout applies. It never retransmits.
func (l *Link) SendWithAck(ctx context.Context, dst byte, items ...Item) error {
	l.ackMutex.Lock()
	defer l.ackMutex.Unlock()

	if _, ok := ctx.Deadline(); !ok && l.cfg.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.AckTimeout)
		defer cancel()
	}

	// Drop answers to earlier frames
	for len(l.ackChan) > 0 {
		<-l.ackChan
	}

	start := time.Now()
	if err := l.Send(dst, true, items...); err != nil {
		return err
	}

	for {
		select {
		case ack := <-l.ackChan:
			if ack.Source != dst {
				continue
			}
			if ack.AckStatus == protocol.AckNACK {
				recordAckWait(l.cfg.LocalID, "nack", time.Since(start))
				return ErrNacked
			}
			recordAckWait(l.cfg.LocalID, "ack", time.Since(start))
			return nil

		case <-ctx.Done():
			recordAckWait(l.cfg.LocalID, "timeout", time.Since(start))
			return fmt.Errorf("waiting for ack from %d: %w", dst, ctx.Err())

		case <-l.stopChan:
			return ErrClosed
		}
	}
}

// Receive returns the next received data message
func (l *Link) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-l.msgChan:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.stopChan:
		return nil, ErrClosed
	}
}

// Stats returns a snapshot of the link counters
func (l *Link) Stats() Stats {
	return Stats{
		FramesSent:      l.stats.framesSent.Load(),
		FramesReceived:  l.stats.framesReceived.Load(),
		FramesInvalid:   l.stats.framesInvalid.Load(),
		FramesForeign:   l.stats.framesForeign.Load(),
		BytesDiscarded:  l.stats.bytesDiscarded.Load(),
		AcksReceived:    l.stats.acksReceived.Load(),
		NacksReceived:   l.stats.nacksReceived.Load(),
		MessagesDropped: l.stats.messagesDropped.Load(),
	}
}

// Close stops the read loop and closes the port
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopChan)
		// Closing the port unblocks the pending Read
		err = l.port.Close()
		<-l.doneChan
	})
	return err
}

// readLoop continuously reads from the port and processes frames
func (l *Link) readLoop() {
	defer close(l.doneChan)

	for {
		n, err := l.port.Read(l.readBuf)
		if n > 0 {
			l.ingest(l.readBuf[:n])
		}
		if err == nil {
			continue
		}

		select {
		case <-l.stopChan:
			return
		default:
		}
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
			l.log.Debug().Err(err).Msg("port closed, read loop exiting")
			return
		}
		if !errors.Is(err, io.EOF) {
			// tarm/serial reports a read timeout as io.EOF
			l.log.Warn().Err(err).Msg("port read failed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ingest stages chunk and extracts every complete frame from it
func (l *Link) ingest(chunk []byte) {
	for len(chunk) > 0 {
		written := l.input.Write(chunk)
		chunk = chunk[written:]
		l.processInput(l.input)
		if written == 0 {
			// Staging full with nothing framable: start over
			n := l.input.Available()
			l.input.Reset()
			l.countDiscarded(n)
		}
	}
}

// processInput parses and dispatches frames from the staged input. Bytes
// before a header are dropped; a possible partial header at the tail is
// kept for the next read.
func (l *Link) processInput(input protocol.InputBuffer) {
	for {
		data := input.Data()
		if len(data) == 0 {
			return
		}

		pos := protocol.FindHeaderPosition(data)
		if pos == protocol.HeaderNotFound {
			if keep := protocol.HeaderLen - 1; len(data) > keep {
				l.discard(input, len(data)-keep)
			}
			return
		}
		if pos > 0 {
			l.discard(input, pos)
			continue
		}

		frameLen, err := protocol.MessageLength(data, 0)
		if err != nil {
			// Length field not received yet
			return
		}
		if frameLen < protocol.OverheadLen || frameLen > l.rx.Capacity() {
			// Magic inside noise: skip it and rescan
			l.discard(input, 1)
			continue
		}
		if len(data) < frameLen {
			return
		}

		l.rx.ResetBuffer()
		if err := l.rx.AddReceivedBytes(data[:frameLen]); err != nil {
			l.log.Error().Err(err).Msg("receive buffer rejected frame")
			l.discard(input, 1)
			continue
		}
		if !l.rx.DataAvailable() {
			// The length may belong to a false sync: drop one byte and
			// rescan the claimed span
			l.rejectFrame(data[1:frameLen])
			l.discard(input, 1)
			continue
		}
		input.Pop(frameLen)
		l.handleFrame()
	}
}

func (l *Link) discard(input protocol.InputBuffer, n int) {
	input.Pop(n)
	l.countDiscarded(n)
}

func (l *Link) countDiscarded(n int) {
	if n <= 0 {
		return
	}
	l.stats.bytesDiscarded.Add(uint64(n))
	recordDiscarded(l.cfg.LocalID, n)
	l.log.Trace().Int("bytes", n).Msg("discarded bytes before header")
}

// rejectFrame counts the invalid frame held in rx. rest is its span past
// the first byte; when another header starts there the candidate is taken
// for a false sync and no NACK is sent.
func (l *Link) rejectFrame(rest []byte) {
	l.stats.framesInvalid.Add(1)
	recordFrameReceived(l.cfg.LocalID, "invalid")
	l.log.Warn().Err(l.rx.ValidateData()).Msg("dropping invalid frame")

	if !l.cfg.AutoAck || protocol.FindHeaderPosition(rest) != protocol.HeaderNotFound {
		return
	}
	if err := l.SendNack(l.cfg.PeerID); err != nil {
		l.log.Warn().Err(err).Msg("failed to send NACK")
	}
}

// handleFrame routes the validated frame held in rx
func (l *Link) handleFrame() {
	msg, err := decodeMessage(l.rx)
	if err != nil {
		l.stats.framesInvalid.Add(1)
		recordFrameReceived(l.cfg.LocalID, "invalid")
		l.log.Warn().Err(err).Msg("failed to decode frame")
		return
	}
	if msg.Destination != l.cfg.LocalID {
		l.stats.framesForeign.Add(1)
		recordFrameReceived(l.cfg.LocalID, "foreign")
		l.log.Debug().Uint8("dst", msg.Destination).Msg("ignoring frame for another node")
		return
	}

	l.stats.framesReceived.Add(1)
	recordFrameReceived(l.cfg.LocalID, "valid")
	l.log.Debug().
		Uint8("src", msg.Source).
		Str("kind", msg.Kind.String()).
		Str("ack", msg.AckStatus.String()).
		Int("items", len(msg.Items)).
		Msg("frame received")

	if msg.AckStatus != protocol.AckNone {
		if msg.AckStatus == protocol.AckNACK {
			l.stats.nacksReceived.Add(1)
		} else {
			l.stats.acksReceived.Add(1)
		}
		select {
		case l.ackChan <- msg:
		default:
			l.log.Debug().Msg("ack channel full, dropping acknowledgment")
		}
		if msg.Kind == protocol.KindAckOnly {
			return
		}
	}

	// ACK before handing the message on
	if msg.AckRequested && l.cfg.AutoAck {
		if err := l.SendAck(msg.Source); err != nil {
			l.log.Warn().Err(err).Msg("failed to send ACK")
		}
	}

	if err := l.handlers.Dispatch(msg); err != nil {
		l.log.Warn().Err(err).Msg("item handler failed")
	}

	select {
	case l.msgChan <- msg:
	default:
		// Queue full, drop oldest
		select {
		case <-l.msgChan:
			l.stats.messagesDropped.Add(1)
		default:
		}
		l.msgChan <- msg
	}
}

// decodeMessage copies the validated frame in mb into a Message
func decodeMessage(mb *protocol.MessageBuffer) (*Message, error) {
	var msg Message
	var err error

	if msg.Source, err = mb.SourceID(); err != nil {
		return nil, err
	}
	if msg.Destination, err = mb.DestinationID(); err != nil {
		return nil, err
	}
	if msg.Kind, err = mb.Kind(); err != nil {
		return nil, err
	}
	if msg.AckStatus, err = mb.AckStatus(); err != nil {
		return nil, err
	}
	if msg.AckRequested, err = mb.AckRequested(); err != nil {
		return nil, err
	}

	count, err := mb.DataCount()
	if err != nil {
		return nil, err
	}
	msg.Items = make([]Item, 0, count)
	for i := 0; i < count; i++ {
		info, err := mb.DataInfo(i)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, info.Len)
		if _, err := mb.GetData(info, payload); err != nil {
			return nil, err
		}
		msg.Items = append(msg.Items, Item{Type: info.Type, Payload: payload})
	}
	return &msg, nil
}
