package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"atcomm/host/link"
)

type fakeLink struct {
	sent     [][]link.Item
	ackReqs  []bool
	acks     int
	nacks    int
	ackErr   error
	incoming *link.Message
}

func (f *fakeLink) Send(dst byte, ackRequest bool, items ...link.Item) error {
	f.sent = append(f.sent, items)
	f.ackReqs = append(f.ackReqs, ackRequest)
	return nil
}

func (f *fakeLink) SendWithAck(ctx context.Context, dst byte, items ...link.Item) error {
	if err := f.Send(dst, true, items...); err != nil {
		return err
	}
	return f.ackErr
}

func (f *fakeLink) SendAck(dst byte) error {
	f.acks++
	return nil
}

func (f *fakeLink) SendNack(dst byte) error {
	f.nacks++
	return nil
}

func (f *fakeLink) Receive(ctx context.Context) (*link.Message, error) {
	if f.incoming == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.incoming, nil
}

func (f *fakeLink) Stats() link.Stats {
	return link.Stats{FramesSent: uint64(len(f.sent))}
}

func TestSessionSend(t *testing.T) {
	fake := &fakeLink{}
	var out bytes.Buffer
	s := newSession(fake, 2, time.Second, &out)

	if _, err := s.exec(`send 7 "hello world" 0x10 hex:0a0b`); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(fake.sent) != 1 || len(fake.sent[0]) != 2 {
		t.Fatalf("Expected one frame with two items, got %+v", fake.sent)
	}
	items := fake.sent[0]
	if items[0].Type != 7 || string(items[0].Payload) != "hello world" {
		t.Errorf("First item mismatch: %+v", items[0])
	}
	if items[1].Type != 0x10 || !bytes.Equal(items[1].Payload, []byte{0x0a, 0x0b}) {
		t.Errorf("Second item mismatch: %+v", items[1])
	}
	if fake.ackReqs[0] {
		t.Error("send should not request an ack")
	}
}

func TestSessionSendAckNacked(t *testing.T) {
	fake := &fakeLink{ackErr: link.ErrNacked}
	s := newSession(fake, 2, time.Second, &bytes.Buffer{})

	_, err := s.exec("sendack 1 x")
	if !errors.Is(err, link.ErrNacked) {
		t.Errorf("Expected ErrNacked, got %v", err)
	}
	if !fake.ackReqs[0] {
		t.Error("sendack should request an ack")
	}
}

func TestSessionErrors(t *testing.T) {
	s := newSession(&fakeLink{}, 2, time.Second, &bytes.Buffer{})

	for _, line := range []string{
		"send",
		"send 1",
		"send 300 x",
		"send 1 hex:zz",
		"recv soon",
		"frobnicate",
		`send 1 "unterminated`,
	} {
		if _, err := s.exec(line); err == nil {
			t.Errorf("%q: expected an error", line)
		}
	}
}

func TestSessionControlAndQuit(t *testing.T) {
	fake := &fakeLink{}
	s := newSession(fake, 2, time.Second, &bytes.Buffer{})

	if _, err := s.exec("ack"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.exec("nack"); err != nil {
		t.Fatal(err)
	}
	if fake.acks != 1 || fake.nacks != 1 {
		t.Errorf("Expected one ack and one nack, got %d/%d", fake.acks, fake.nacks)
	}
	quit, err := s.exec("quit")
	if !quit || err != nil {
		t.Errorf("quit = %v, %v", quit, err)
	}
}

func TestSessionRun(t *testing.T) {
	fake := &fakeLink{incoming: &link.Message{
		Source:      2,
		Destination: 1,
		Items:       []link.Item{{Type: 3, Payload: []byte{0x00, 0xFF}}},
	}}
	var out bytes.Buffer
	s := newSession(fake, 2, time.Second, &out)

	if err := s.run(strings.NewReader("recv 1s\nstats\nquit\n")); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"type=3", "hex:00ff", "sent=0", "Goodbye!"} {
		if !strings.Contains(text, want) {
			t.Errorf("Output missing %q:\n%s", want, text)
		}
	}
	if n := strings.Count(text, "type=3"); n != 1 {
		t.Errorf("Received item printed %d times:\n%s", n, text)
	}
}

func TestFormatPayload(t *testing.T) {
	if got := formatPayload([]byte("ok")); got != `"ok"` {
		t.Errorf("formatPayload(text) = %s", got)
	}
	if got := formatPayload([]byte{1, 2}); got != "hex:0102" {
		t.Errorf("formatPayload(binary) = %s", got)
	}
}
