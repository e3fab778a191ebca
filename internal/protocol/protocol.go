package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/decentraland/Pulse/internal/wallet"
)

// Protocol constants
const (
	// Client message types
	MsgTypeHandshake = 0x01
	MsgTypeGame      = 0x02

	// Server message types
	MsgTypeWelcome    = 0x10
	MsgTypeAuthReject = 0x11
	MsgTypePong       = 0x12

	// Packet structure sizes
	HeaderSize     = 4 // 1 + 1 + 2 bytes
	MaxPayloadSize = 60 << 10

	// Game message kinds
	GameKindPing   = 0x01
	GameKindMove   = 0x02
	GameKindAction = 0x03
	GameKindChat   = 0x04
)

// Header is the 4-byte packet header.
// Layout: [MsgType:1][Reserved:1][PayloadLen:2 BE]
type Header struct {
	MsgType    uint8
	PayloadLen uint16
}

// HandshakeMsg is the first reliable message a client sends after the
// transport connect. ConnectSignature signs the connect payload string built
// from ServerID and Timestamp (see wallet.ConnectSigInput).
type HandshakeMsg struct {
	AuthChain        wallet.Chain  `json:"auth_chain"`
	Timestamp        int64         `json:"timestamp"`
	ServerID         string        `json:"server_id"`
	ConnectSignature hexutil.Bytes `json:"connect_signature"`
}

// GameMessage is any post-authentication client message. The body is opaque
// to the routing core; only the kind byte is inspected for dispatch.
type GameMessage struct {
	Kind byte
	Body []byte
}

// ClientMessage is a fully parsed inbound packet. Exactly one of Handshake
// or Game is set, matching Type.
type ClientMessage struct {
	Type      uint8
	Handshake *HandshakeMsg
	Game      *GameMessage
}

// RejectCode is the opaque reason code carried by an auth rejection. All
// authentication failures map to the same code so a client cannot probe
// which check failed.
type RejectCode uint8

// RejectAuthFailed is the single rejection code for any failed handshake.
const RejectAuthFailed RejectCode = 0x01

// ParseHeader parses the 4-byte packet header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}
	return Header{
		MsgType:    data[0],
		PayloadLen: binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// ParseClientMessage parses a complete inbound packet (header + payload).
// The returned message owns its memory; it never aliases data, so the caller
// may release the receive buffer as soon as this returns.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	payload := data[HeaderSize:]
	if int(header.PayloadLen) != len(payload) {
		return nil, fmt.Errorf("payload length mismatch: header says %d bytes, got %d",
			header.PayloadLen, len(payload))
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	msg := &ClientMessage{Type: header.MsgType}

	switch header.MsgType {
	case MsgTypeHandshake:
		var hs HandshakeMsg
		if err := json.Unmarshal(payload, &hs); err != nil {
			return nil, fmt.Errorf("failed to parse handshake payload: %w", err)
		}
		msg.Handshake = &hs

	case MsgTypeGame:
		if len(payload) < 1 {
			return nil, fmt.Errorf("game payload too short: missing kind byte")
		}
		body := make([]byte, len(payload)-1)
		copy(body, payload[1:])
		msg.Game = &GameMessage{Kind: payload[0], Body: body}

	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", header.MsgType)
	}

	return msg, nil
}

// EncodeHandshake builds a complete handshake packet. Used by client tooling
// and tests; the server only parses these.
func EncodeHandshake(hs HandshakeMsg) ([]byte, error) {
	payload, err := json.Marshal(hs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode handshake payload: %w", err)
	}
	return appendHeader(MsgTypeHandshake, payload)
}

// EncodeGameMessage builds a complete game message packet.
func EncodeGameMessage(kind byte, body []byte) ([]byte, error) {
	payload := make([]byte, 1+len(body))
	payload[0] = kind
	copy(payload[1:], body)
	return appendHeader(MsgTypeGame, payload)
}

// WelcomePayload is the body of the welcome message sent after a successful
// handshake.
type WelcomePayload struct {
	WalletAddress string `json:"wallet_address"`
}

// EncodeWelcome builds the welcome packet carrying the verified wallet
// address back to the client.
func EncodeWelcome(address wallet.Address) ([]byte, error) {
	payload, err := json.Marshal(WelcomePayload{WalletAddress: address.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode welcome payload: %w", err)
	}
	return appendHeader(MsgTypeWelcome, payload)
}

// EncodeAuthRejection builds the rejection packet sent before a deferred
// close on any handshake failure.
func EncodeAuthRejection(code RejectCode) ([]byte, error) {
	return appendHeader(MsgTypeAuthReject, []byte{byte(code)})
}

// EncodePong builds the pong reply to a ping game message, echoing the ping
// body so clients can correlate round trips.
func EncodePong(body []byte) ([]byte, error) {
	return appendHeader(MsgTypePong, body)
}

func appendHeader(msgType uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}
	out := make([]byte, HeaderSize+len(payload))
	out[0] = msgType
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}
