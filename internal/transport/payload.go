package transport

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload is one upstream event submission.
type Payload struct {
	UID        string `json:"uid"`
	Plate      string `json:"plate"`
	Token      string `json:"token"`
	Timestamp  string `json:"timestamp"`
	EventType  string `json:"event_type"`
	Details    string `json:"details"`
	DeviceDBID int64  `json:"device_db_id"`
}

// fields returns the multipart form fields in a stable order.
func (p Payload) fields() [][2]string {
	return [][2]string{
		{"uid", p.UID},
		{"plate", p.Plate},
		{"token", p.Token},
		{"timestamp", p.Timestamp},
		{"event_type", p.EventType},
		{"details", p.Details},
		{"device_db_id", strconv.FormatInt(p.DeviceDBID, 10)},
	}
}

// ImageName is the file name used for the multipart image part.
func (p Payload) ImageName() string {
	return fmt.Sprintf("img_%d.jpg", p.DeviceDBID)
}

func (p Payload) marshalProto() ([]byte, error) {
	m := map[string]any{
		"uid":          p.UID,
		"plate":        p.Plate,
		"token":        p.Token,
		"timestamp":    p.Timestamp,
		"event_type":   p.EventType,
		"details":      p.Details,
		"device_db_id": float64(p.DeviceDBID),
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("payload struct: %w", err)
	}
	return proto.Marshal(st)
}
