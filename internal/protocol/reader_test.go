package protocol

import (
	"net"
	"testing"
	"time"
)

func TestReceiveJoinsPartialReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)

	go func() {
		client.Write([]byte("LOGIN|ni"))
		time.Sleep(10 * time.Millisecond)
		client.Write([]byte("ck:alice\n"))
	}()

	res := r.Receive(time.Second)
	if res.Kind != Line {
		t.Fatalf("Receive() kind = %v, want Line", res.Kind)
	}
	if res.Line != "LOGIN|nick:alice" {
		t.Fatalf("Receive() line = %q", res.Line)
	}
}

func TestReceiveStripsTrailingCR(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)
	go client.Write([]byte("PING\r\n"))

	res := r.Receive(time.Second)
	if res.Kind != Line || res.Line != "PING" {
		t.Fatalf("Receive() = %+v", res)
	}
}

func TestReceiveTwoLinesInOneRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)
	go client.Write([]byte("PING\nPING\n"))

	first := r.Receive(time.Second)
	if first.Kind != Line || first.Line != "PING" {
		t.Fatalf("first Receive() = %+v", first)
	}
	second := r.Receive(time.Second)
	if second.Kind != Line || second.Line != "PING" {
		t.Fatalf("second Receive() = %+v", second)
	}
}

func TestReceiveDisconnect(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	r := NewReader(server)
	client.Close()

	res := r.Receive(time.Second)
	if res.Kind != Disconnect {
		t.Fatalf("Receive() kind = %v, want Disconnect", res.Kind)
	}
}

func TestReceiveTimeoutPreservesBuffer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)
	go client.Write([]byte("LOGIN|ni"))

	res := r.Receive(30 * time.Millisecond)
	if res.Kind != Timeout {
		t.Fatalf("Receive() kind = %v, want Timeout", res.Kind)
	}

	go client.Write([]byte("ck:bob\n"))
	res = r.Receive(time.Second)
	if res.Kind != Line || res.Line != "LOGIN|nick:bob" {
		t.Fatalf("Receive() after timeout = %+v", res)
	}
}

func TestReceiveOverflow(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)
	big := make([]byte, readBufferCap+10)
	for i := range big {
		big[i] = 'x'
	}
	go client.Write(big)

	res := r.Receive(time.Second)
	if res.Kind != Overflow {
		t.Fatalf("Receive() kind = %v, want Overflow", res.Kind)
	}
}

func TestFramingIdempotence(t *testing.T) {
	lines := []string{"LOGIN|nick:alice", "PING", "JOIN_ROOM|room:0"}
	var stream []byte
	for _, l := range lines {
		stream = append(stream, []byte(l+"\n")...)
	}

	// Split the byte stream at an arbitrary boundary and feed the
	// pieces to the codec; the result must still be exactly len(lines)
	// Line events, in order.
	split := len(stream) / 2

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := NewReader(server)
	go func() {
		client.Write(stream[:split])
		time.Sleep(10 * time.Millisecond)
		client.Write(stream[split:])
	}()

	for i, want := range lines {
		res := r.Receive(time.Second)
		if res.Kind != Line {
			t.Fatalf("line %d: kind = %v, want Line", i, res.Kind)
		}
		if res.Line != want {
			t.Fatalf("line %d: got %q, want %q", i, res.Line, want)
		}
	}
}
