package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/decentraland/Pulse/internal/wallet"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    Header
		expectError bool
		errorMsg    string
	}{
		{
			name:     "valid handshake header",
			data:     []byte{0x01, 0x00, 0x00, 0x10},
			expected: Header{MsgType: MsgTypeHandshake, PayloadLen: 16},
		},
		{
			name:     "valid game header",
			data:     []byte{0x02, 0x00, 0x01, 0x00},
			expected: Header{MsgType: MsgTypeGame, PayloadLen: 256},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error but got none")
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseClientMessageGame(t *testing.T) {
	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	data, err := EncodeGameMessage(GameKindMove, body)
	if err != nil {
		t.Fatalf("failed to encode game message: %v", err)
	}

	msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("failed to parse game message: %v", err)
	}
	if msg.Type != MsgTypeGame || msg.Game == nil {
		t.Fatalf("expected game message, got %+v", msg)
	}
	if msg.Game.Kind != GameKindMove {
		t.Errorf("expected kind 0x%02x, got 0x%02x", GameKindMove, msg.Game.Kind)
	}
	if !bytes.Equal(msg.Game.Body, body) {
		t.Errorf("expected body %x, got %x", body, msg.Game.Body)
	}

	// The parsed message must not alias the input buffer.
	data[HeaderSize+1] = 0xFF
	if !bytes.Equal(msg.Game.Body, body) {
		t.Errorf("parsed body aliases the input buffer")
	}
}

func TestParseClientMessageHandshake(t *testing.T) {
	walletKey, err := wallet.NewKey()
	if err != nil {
		t.Fatalf("failed to generate wallet key: %v", err)
	}
	ephemeralKey, err := wallet.NewKey()
	if err != nil {
		t.Fatalf("failed to generate ephemeral key: %v", err)
	}

	now := time.Now()
	chain, err := wallet.NewChain(walletKey, ephemeralKey.Address(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to build chain: %v", err)
	}
	sig, err := wallet.SignConnect(ephemeralKey, "srv-1", now.Unix())
	if err != nil {
		t.Fatalf("failed to sign connect: %v", err)
	}

	data, err := EncodeHandshake(HandshakeMsg{
		AuthChain:        chain,
		Timestamp:        now.Unix(),
		ServerID:         "srv-1",
		ConnectSignature: sig,
	})
	if err != nil {
		t.Fatalf("failed to encode handshake: %v", err)
	}

	msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("failed to parse handshake: %v", err)
	}
	if msg.Type != MsgTypeHandshake || msg.Handshake == nil {
		t.Fatalf("expected handshake message, got %+v", msg)
	}
	if msg.Handshake.ServerID != "srv-1" {
		t.Errorf("expected server id srv-1, got %q", msg.Handshake.ServerID)
	}
	if len(msg.Handshake.AuthChain) != 2 {
		t.Errorf("expected 2 chain statements, got %d", len(msg.Handshake.AuthChain))
	}
	if !bytes.Equal(msg.Handshake.ConnectSignature, sig) {
		t.Errorf("connect signature did not round-trip")
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{
			name:     "length mismatch",
			data:     []byte{0x02, 0x00, 0x00, 0x10, 0x01},
			errorMsg: "payload length mismatch",
		},
		{
			name:     "unknown type",
			data:     []byte{0x7F, 0x00, 0x00, 0x01, 0x00},
			errorMsg: "unknown message type",
		},
		{
			name:     "game message missing kind",
			data:     []byte{0x02, 0x00, 0x00, 0x00},
			errorMsg: "missing kind byte",
		},
		{
			name:     "handshake with garbage payload",
			data:     []byte{0x01, 0x00, 0x00, 0x03, 'a', 'b', 'c'},
			errorMsg: "failed to parse handshake payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClientMessage(tt.data)
			if err == nil {
				t.Fatalf("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error to contain %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestDeliveryModeChannels(t *testing.T) {
	tests := []struct {
		mode    DeliveryMode
		channel uint8
	}{
		{ReliableOrdered, 0},
		{UnreliableSequenced, 1},
		{UnreliableUnordered, 2},
	}
	for _, tt := range tests {
		if got := tt.mode.Channel(); got != tt.channel {
			t.Errorf("%s: expected channel %d, got %d", tt.mode, tt.channel, got)
		}
	}
}

func TestPeerIDLaneIsStable(t *testing.T) {
	for _, laneCount := range []int{1, 2, 4, 7} {
		for raw := uint32(0); raw < 100; raw++ {
			p := PeerIDFrom(raw)
			want := int(raw % uint32(laneCount))
			if got := p.Lane(laneCount); got != want {
				t.Fatalf("peer %d with %d lanes: expected lane %d, got %d", raw, laneCount, want, got)
			}
			if p.Lane(laneCount) != p.Lane(laneCount) {
				t.Fatalf("lane assignment is not stable for peer %d", raw)
			}
		}
	}
}
