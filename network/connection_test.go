package network

import (
	"io"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	frame := Encode(MsgTypeVote, []byte(`{"round_id":"r1"}`))
	p, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if p.MsgID != MsgTypeVote {
		t.Errorf("msg id = %d, want %d", p.MsgID, MsgTypeVote)
	}
	if string(p.Data) != `{"round_id":"r1"}` {
		t.Errorf("data = %q", p.Data)
	}

	var req VoteRequest
	if err := DecodeJSON(p, &req); err != nil {
		t.Fatal(err)
	}
	if req.RoundID != "r1" {
		t.Errorf("round id = %q", req.RoundID)
	}
}

func TestDecode_Short(t *testing.T) {
	if _, err := Decode([]byte{0, 1}); err != io.ErrShortBuffer {
		t.Errorf("expected io.ErrShortBuffer, got %v", err)
	}
	frame := Encode(MsgTypeView, []byte("abcdef"))
	if _, err := Decode(frame[:len(frame)-2]); err != ErrPacketTooShort {
		t.Errorf("expected ErrPacketTooShort, got %v", err)
	}
}

func TestEncode_LargeBody(t *testing.T) {
	body := make([]byte, 70000)
	p, err := Decode(Encode(MsgTypeView, body))
	if err != nil {
		t.Fatal(err)
	}
	if int(p.Length) != len(body) {
		t.Errorf("length = %d, want %d", p.Length, len(body))
	}
}
