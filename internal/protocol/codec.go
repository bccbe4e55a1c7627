package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode wraps msg in an [Envelope] and marshals it to a wire frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", msg.MessageKind(), err)
	}
	frame, err := json.Marshal(Envelope{Kind: msg.MessageKind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", msg.MessageKind(), err)
	}
	return frame, nil
}

// Decode parses a wire frame into a typed, validated payload. Unknown kinds
// and invalid payloads return an error; a nil error guarantees the returned
// Message is one of this package's concrete types with its invariants
// holding.
func Decode(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}

	msg, err := emptyPayload(env.Kind)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal %s payload: %w", env.Kind, err)
		}
	}

	out := msg.(Message)
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// emptyPayload returns a pointer to a zero payload for kind, so Decode can
// unmarshal into it. The switch is the closed set of wire kinds.
func emptyPayload(kind Kind) (any, error) {
	switch kind {
	case KindQueueJoin:
		return &QueueJoin{}, nil
	case KindRoomReady:
		return &RoomReady{}, nil
	case KindRoomLeave:
		return &RoomLeave{}, nil
	case KindCast:
		return &Cast{}, nil
	case KindSignal:
		return &Signal{}, nil
	case KindHeartbeat:
		return &Heartbeat{}, nil
	case KindJoinResult:
		return &JoinResult{}, nil
	case KindQueueWaiting:
		return &QueueWaiting{}, nil
	case KindRoomSnapshot:
		return &RoomSnapshot{}, nil
	case KindMatchStart:
		return &MatchStart{}, nil
	case KindMatchPlaying:
		return &MatchPlaying{}, nil
	case KindMatchFinished:
		return &MatchFinished{}, nil
	case KindOpponentLeft:
		return &OpponentLeft{}, nil
	case KindError:
		return &ErrorMsg{}, nil
	}
	return nil, fmt.Errorf("protocol: unknown message kind %q", kind)
}
