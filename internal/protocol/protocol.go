// Package protocol implements the binary wire protocol shared by the
// game server and its clients. Every frame begins with a one-byte tag
// identifying the message kind; all multi-byte integers are big-endian.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Kind identifies a wire message kind. It is the first byte of every frame.
type Kind byte

// Wire tags. Tag 5 was reserved for a world-state snapshot in an earlier
// protocol revision and is intentionally unassigned.
const (
	KindPlayerUpdate Kind = 1
	KindPlayerJoin   Kind = 2
	KindPlayerLeave  Kind = 3
	KindChatMessage  Kind = 4
	KindPlayerInit   Kind = 6
)

// String returns the human-readable kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindPlayerUpdate:
		return "player_update"
	case KindPlayerJoin:
		return "player_join"
	case KindPlayerLeave:
		return "player_leave"
	case KindChatMessage:
		return "chat_message"
	case KindPlayerInit:
		return "player_init"
	}
	return fmt.Sprintf("unknown(%d)", byte(k))
}

// NameFieldLen is the fixed on-wire width of the player name field.
// Names are UTF-8 encoded and null-padded to exactly this many bytes.
const NameFieldLen = 20

const (
	// playerStateLen is the frame length of the three fixed-layout kinds
	// (update, join, init): tag + u32 id + name + i32 x + i32 y.
	playerStateLen = 1 + 4 + NameFieldLen + 4 + 4
	// playerLeaveLen is the frame length of PlayerLeave: tag + u32 id.
	playerLeaveLen = 1 + 4
	// chatHeaderLen is the fixed chat prefix: tag + u32 id + u32 text length.
	chatHeaderLen = 1 + 4 + 4
	// chatMinLen is the minimum chat frame: header + f32 timestamp, no text.
	chatMinLen = chatHeaderLen + 4
)

// ErrNameTooLong is returned by Encode when a name's UTF-8 encoding
// exceeds NameFieldLen bytes. Names are validated at registration time,
// so hitting this indicates a caller bug.
var ErrNameTooLong = errors.New("player name exceeds 20 bytes")

// DecodeError describes a frame that could not be decoded. The frame is
// dropped by callers; a DecodeError never carries a partial message.
type DecodeError struct {
	// Tag is the first byte of the offending frame.
	Tag byte
	// Reason describes why decoding failed.
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding frame (tag %d): %s", e.Tag, e.Reason)
}

// Message is one wire message. The five concrete kinds are PlayerInit,
// PlayerJoin, PlayerUpdate, PlayerLeave, and ChatMessage; the set is
// closed and Decode never produces anything else.
type Message interface {
	// Kind returns the wire tag of this message.
	Kind() Kind
}

// PlayerInit announces the receiving client's own identity and spawn
// position. Sent once, server to client, immediately after joining.
type PlayerInit struct {
	PlayerID uint32
	Name     string
	X, Y     int32
}

// Kind implements Message.
func (PlayerInit) Kind() Kind { return KindPlayerInit }

// PlayerJoin announces a connected player: either a newcomer to
// everyone else, or an already-present player to a newcomer.
type PlayerJoin struct {
	PlayerID uint32
	Name     string
	X, Y     int32
}

// Kind implements Message.
func (PlayerJoin) Kind() Kind { return KindPlayerJoin }

// PlayerUpdate carries a player's position. Clients send their own
// updates; the server relays them verbatim to every other client.
type PlayerUpdate struct {
	PlayerID uint32
	Name     string
	X, Y     int32
}

// Kind implements Message.
func (PlayerUpdate) Kind() Kind { return KindPlayerUpdate }

// PlayerLeave announces a disconnect.
type PlayerLeave struct {
	PlayerID uint32
}

// Kind implements Message.
func (PlayerLeave) Kind() Kind { return KindPlayerLeave }

// ChatMessage carries free text. Text is length-prefixed UTF-8; the
// timestamp is seconds-since-epoch and is filled in by the sender.
type ChatMessage struct {
	PlayerID  uint32
	Text      string
	Timestamp float32
}

// Kind implements Message.
func (ChatMessage) Kind() Kind { return KindChatMessage }

// Encode serializes a message into a wire frame. The returned buffer
// always begins with the message's tag byte.
//
// Precondition: name fields must be at most NameFieldLen UTF-8 bytes.
// Postcondition: Returns the encoded frame, or ErrNameTooLong.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case PlayerUpdate:
		return encodePlayerState(KindPlayerUpdate, msg.PlayerID, msg.Name, msg.X, msg.Y)
	case PlayerJoin:
		return encodePlayerState(KindPlayerJoin, msg.PlayerID, msg.Name, msg.X, msg.Y)
	case PlayerInit:
		return encodePlayerState(KindPlayerInit, msg.PlayerID, msg.Name, msg.X, msg.Y)
	case PlayerLeave:
		buf := make([]byte, playerLeaveLen)
		buf[0] = byte(KindPlayerLeave)
		binary.BigEndian.PutUint32(buf[1:5], msg.PlayerID)
		return buf, nil
	case ChatMessage:
		text := []byte(msg.Text)
		buf := make([]byte, chatMinLen+len(text))
		buf[0] = byte(KindChatMessage)
		binary.BigEndian.PutUint32(buf[1:5], msg.PlayerID)
		binary.BigEndian.PutUint32(buf[5:9], uint32(len(text)))
		copy(buf[chatHeaderLen:], text)
		binary.BigEndian.PutUint32(buf[chatHeaderLen+len(text):], math.Float32bits(msg.Timestamp))
		return buf, nil
	}
	return nil, fmt.Errorf("encoding unsupported message type %T", m)
}

// encodePlayerState serializes the shared fixed layout of the update,
// join, and init kinds: tag, u32 id, 20-byte name, i32 x, i32 y.
func encodePlayerState(tag Kind, id uint32, name string, x, y int32) ([]byte, error) {
	nameBytes := []byte(name)
	if len(nameBytes) > NameFieldLen {
		return nil, fmt.Errorf("encoding %s for player %d: %w", tag, id, ErrNameTooLong)
	}
	buf := make([]byte, playerStateLen)
	buf[0] = byte(tag)
	binary.BigEndian.PutUint32(buf[1:5], id)
	copy(buf[5:5+NameFieldLen], nameBytes) // zero-padded by allocation
	binary.BigEndian.PutUint32(buf[25:29], uint32(x))
	binary.BigEndian.PutUint32(buf[29:33], uint32(y))
	return buf, nil
}

// Decode parses a wire frame into a typed message.
//
// Empty input returns (nil, nil): an empty read may simply mean the
// stream closed, and callers treat it as "no message" rather than a
// protocol violation. Any other malformed input — unknown tag, frame
// shorter than the kind's minimum, chat text length exceeding the
// buffer — returns a *DecodeError and never a partial message.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, nil
	}

	tag := Kind(data[0])
	switch tag {
	case KindPlayerUpdate, KindPlayerJoin, KindPlayerInit:
		if len(data) < playerStateLen {
			return nil, &DecodeError{Tag: data[0], Reason: fmt.Sprintf("frame too short: %d bytes, want %d", len(data), playerStateLen)}
		}
		id := binary.BigEndian.Uint32(data[1:5])
		name := decodeName(data[5 : 5+NameFieldLen])
		x := int32(binary.BigEndian.Uint32(data[25:29]))
		y := int32(binary.BigEndian.Uint32(data[29:33]))
		switch tag {
		case KindPlayerUpdate:
			return PlayerUpdate{PlayerID: id, Name: name, X: x, Y: y}, nil
		case KindPlayerJoin:
			return PlayerJoin{PlayerID: id, Name: name, X: x, Y: y}, nil
		default:
			return PlayerInit{PlayerID: id, Name: name, X: x, Y: y}, nil
		}

	case KindPlayerLeave:
		if len(data) < playerLeaveLen {
			return nil, &DecodeError{Tag: data[0], Reason: fmt.Sprintf("frame too short: %d bytes, want %d", len(data), playerLeaveLen)}
		}
		return PlayerLeave{PlayerID: binary.BigEndian.Uint32(data[1:5])}, nil

	case KindChatMessage:
		// Two-phase: fixed header first, then exactly the declared text
		// length, then the trailing timestamp.
		if len(data) < chatMinLen {
			return nil, &DecodeError{Tag: data[0], Reason: fmt.Sprintf("frame too short: %d bytes, want at least %d", len(data), chatMinLen)}
		}
		textLen := binary.BigEndian.Uint32(data[5:9])
		if uint64(textLen) > uint64(len(data)-chatMinLen) {
			return nil, &DecodeError{Tag: data[0], Reason: fmt.Sprintf("declared text length %d exceeds remaining %d bytes", textLen, len(data)-chatMinLen)}
		}
		text := string(data[chatHeaderLen : chatHeaderLen+textLen])
		ts := math.Float32frombits(binary.BigEndian.Uint32(data[chatHeaderLen+textLen:]))
		return ChatMessage{
			PlayerID:  binary.BigEndian.Uint32(data[1:5]),
			Text:      text,
			Timestamp: ts,
		}, nil
	}

	return nil, &DecodeError{Tag: data[0], Reason: "unknown message tag"}
}

// decodeName strips the null padding from a fixed-width name field.
func decodeName(field []byte) string {
	return string(bytes.TrimRight(field, "\x00"))
}
