// Package syncproto implements the wire codec for the message types
// carried over a Framed Transport connection: Sync (with its STEP1/STEP2/
// UPDATE sub-protocol), Awareness, and the server-to-client Control frame.
package syncproto

import (
	"fmt"

	"github.com/collabspace/collabd/internal/crdt"
)

// FrameTag identifies the top-level message type.
type FrameTag byte

const (
	TagSync      FrameTag = 0
	TagAwareness FrameTag = 1
	TagControl   FrameTag = 2
)

// ControlKind identifies a server-to-client out-of-band notification carried
// in a Control frame.
type ControlKind byte

const (
	// ControlShutdown tells a client the server is draining and its
	// connection will be closed once the drain deadline elapses.
	ControlShutdown ControlKind = 0
)

// EncodeControlFrame wraps a control notification in its top-level tag byte.
func EncodeControlFrame(kind ControlKind) []byte {
	return []byte{byte(TagControl), byte(kind)}
}

// DecodeControl parses a Control frame's body.
func DecodeControl(body []byte) (ControlKind, error) {
	if len(body) < 1 {
		return 0, fmt.Errorf("control frame missing kind")
	}
	return ControlKind(body[0]), nil
}

// SyncKind identifies a sub-message within a Sync frame.
type SyncKind byte

const (
	KindStep1  SyncKind = 0
	KindStep2  SyncKind = 1
	KindUpdate SyncKind = 2
)

// SyncMessage is one decoded Sync sub-protocol message.
type SyncMessage struct {
	Kind   SyncKind
	Vector crdt.StateVector // set for Step1
	Update crdt.UpdateBlob  // set for Step2 and Update
}

// DecodeFrame splits a raw transport frame into its tag and body.
func DecodeFrame(frame []byte) (FrameTag, []byte, error) {
	if len(frame) < 1 {
		return 0, nil, fmt.Errorf("empty frame")
	}
	return FrameTag(frame[0]), frame[1:], nil
}

// EncodeSyncFrame wraps a Sync sub-message in its top-level tag byte.
func EncodeSyncFrame(msg SyncMessage) []byte {
	return append([]byte{byte(TagSync)}, encodeSyncBody(msg)...)
}

// EncodeAwarenessFrame wraps an awareness update in its top-level tag byte.
func EncodeAwarenessFrame(update crdt.AwarenessUpdate) ([]byte, error) {
	body, err := crdt.EncodeAwarenessUpdate(update)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(TagAwareness)}, body...), nil
}

// DecodeSync parses a Sync frame's body into a SyncMessage.
func DecodeSync(body []byte) (SyncMessage, error) {
	if len(body) < 1 {
		return SyncMessage{}, fmt.Errorf("sync frame missing sub-tag")
	}
	kind := SyncKind(body[0])
	payload := body[1:]

	switch kind {
	case KindStep1:
		return SyncMessage{Kind: kind, Vector: crdt.StateVector(payload)}, nil
	case KindStep2, KindUpdate:
		return SyncMessage{Kind: kind, Update: crdt.UpdateBlob(payload)}, nil
	default:
		return SyncMessage{}, fmt.Errorf("unknown sync sub-tag %d", kind)
	}
}

func encodeSyncBody(msg SyncMessage) []byte {
	switch msg.Kind {
	case KindStep1:
		return append([]byte{byte(KindStep1)}, msg.Vector...)
	case KindStep2:
		return append([]byte{byte(KindStep2)}, msg.Update...)
	case KindUpdate:
		return append([]byte{byte(KindUpdate)}, msg.Update...)
	default:
		panic(fmt.Sprintf("syncproto: unknown sync kind %d", msg.Kind))
	}
}

// Step1 builds a STEP1 Sync message announcing vector.
func Step1(vector crdt.StateVector) SyncMessage {
	return SyncMessage{Kind: KindStep1, Vector: vector}
}

// Step2 builds a STEP2 Sync message carrying the diff the peer lacks.
func Step2(update crdt.UpdateBlob) SyncMessage {
	return SyncMessage{Kind: KindStep2, Update: update}
}

// Update builds an unsolicited UPDATE Sync message.
func Update(update crdt.UpdateBlob) SyncMessage {
	return SyncMessage{Kind: KindUpdate, Update: update}
}
