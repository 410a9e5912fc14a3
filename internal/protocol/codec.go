package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownAction is wrapped by DecodeError when the action is outside the enum.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownRole is wrapped by DecodeError when the role is outside the enum.
	ErrUnknownRole = errors.New("unknown role")
	// ErrNotAnObject is wrapped by DecodeError when the frame is not a JSON object.
	ErrNotAnObject = errors.New("frame is not a JSON object")
)

// DecodeError reports a malformed frame. The frame should be dropped; the
// session continues.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %d-byte frame: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes msg as a single JSON object.
//
// Postcondition: Decode(Encode(msg)) == msg for every valid msg.
func Encode(msg Message) ([]byte, error) {
	if !msg.Action.Valid() {
		return nil, fmt.Errorf("encoding %v: %w", msg.Action, ErrUnknownAction)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %v: %w", msg.Action, err)
	}
	return data, nil
}

// Decode parses one frame. Missing seatIndex defaults to -1; missing or unknown
// sub-objects are tolerated.
//
// Postcondition: Returns the message or a *DecodeError.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &DecodeError{Size: len(data), Err: ErrNotAnObject}
	}

	msg := Message{SeatIndex: -1}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, &DecodeError{Size: len(data), Err: err}
	}
	if !msg.Role.Valid() {
		return Message{}, &DecodeError{Size: len(data), Err: fmt.Errorf("%w: %d", ErrUnknownRole, int(msg.Role))}
	}
	if !msg.Action.Valid() {
		return Message{}, &DecodeError{Size: len(data), Err: fmt.Errorf("%w: %d", ErrUnknownAction, int(msg.Action))}
	}
	return msg, nil
}
