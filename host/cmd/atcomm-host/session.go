package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"atcomm/host/link"
)

// linkAPI is the part of *link.Link the command loop drives
type linkAPI interface {
	Send(dst byte, ackRequest bool, items ...link.Item) error
	SendWithAck(ctx context.Context, dst byte, items ...link.Item) error
	SendAck(dst byte) error
	SendNack(dst byte) error
	Receive(ctx context.Context) (*link.Message, error)
	Stats() link.Stats
}

type session struct {
	link       linkAPI
	peer       byte
	ackTimeout time.Duration

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

func newSession(l linkAPI, peer byte, ackTimeout time.Duration, out io.Writer) *session {
	return &session{link: l, peer: peer, ackTimeout: ackTimeout, out: out}
}

func (s *session) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// run executes commands read from in until EOF or quit
func (s *session) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		s.printf("> ")
		if !scanner.Scan() {
			break
		}
		quit, err := s.exec(scanner.Text())
		if err != nil {
			s.printf("Error: %v\n", err)
		}
		if quit {
			s.printf("Goodbye!\n")
			return nil
		}
	}
	return scanner.Err()
}

// exec runs one command line
func (s *session) exec(line string) (bool, error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command: %w", err)
	}
	if len(parts) == 0 {
		return false, nil
	}

	cmd, args := parts[0], parts[1:]
	switch cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		s.printHelp()

	case "send":
		items, err := parseItems(args)
		if err != nil {
			return false, err
		}
		if err := s.link.Send(s.peer, false, items...); err != nil {
			return false, err
		}
		s.printf("sent %d item(s)\n", len(items))

	case "sendack":
		items, err := parseItems(args)
		if err != nil {
			return false, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.ackTimeout)
		defer cancel()
		if err := s.link.SendWithAck(ctx, s.peer, items...); err != nil {
			return false, err
		}
		s.printf("acknowledged\n")

	case "ack":
		return false, s.link.SendAck(s.peer)

	case "nack":
		return false, s.link.SendNack(s.peer)

	case "recv":
		timeout := 5 * time.Second
		if len(args) > 0 {
			if timeout, err = time.ParseDuration(args[0]); err != nil {
				return false, fmt.Errorf("invalid timeout %q: %w", args[0], err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		msg, err := s.link.Receive(ctx)
		if err != nil {
			return false, err
		}
		for _, item := range msg.Items {
			s.printItem(msg, item)
		}

	case "stats":
		st := s.link.Stats()
		s.printf("sent=%d received=%d invalid=%d foreign=%d discarded=%d acks=%d nacks=%d dropped=%d\n",
			st.FramesSent, st.FramesReceived, st.FramesInvalid, st.FramesForeign,
			st.BytesDiscarded, st.AcksReceived, st.NacksReceived, st.MessagesDropped)

	default:
		return false, fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return false, nil
}

func (s *session) printHelp() {
	s.printf(`
Available commands:
  send <type> <payload> [...]     - Send items to the peer
  sendack <type> <payload> [...]  - Send items and wait for ACK/NACK
  ack / nack                      - Send an ACK or NACK control frame
  recv [timeout]                  - Wait for the next data message
  stats                           - Print link counters
  help                            - Show this help message
  quit/exit/q                     - Exit the program

Payloads are text, or hex when prefixed with "hex:" (e.g. hex:0a0b).
`)
}

// printItem reports one item of a received message
func (s *session) printItem(msg *link.Message, item link.Item) {
	s.printf("< [%d->%d] type=%d len=%d %s\n", msg.Source, msg.Destination, item.Type, len(item.Payload), formatPayload(item.Payload))
}

// parseItems reads <type> <payload> pairs
func parseItems(args []string) ([]link.Item, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, fmt.Errorf("expected <type> <payload> pairs")
	}
	items := make([]link.Item, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		dataType, err := strconv.ParseUint(args[i], 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid data type %q: %w", args[i], err)
		}
		payload, err := parsePayload(args[i+1])
		if err != nil {
			return nil, err
		}
		items = append(items, link.Item{Type: byte(dataType), Payload: payload})
	}
	return items, nil
}

func parsePayload(arg string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(arg, "hex:"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return b, nil
	}
	return []byte(arg), nil
}

func formatPayload(p []byte) string {
	for _, b := range p {
		if b < 0x20 || b > 0x7E {
			return "hex:" + hex.EncodeToString(p)
		}
	}
	return strconv.Quote(string(p))
}
