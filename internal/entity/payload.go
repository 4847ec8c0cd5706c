package entity

import (
	"encoding/json"
	"fmt"
)

// PayloadVersion is the envelope version written by this build
const PayloadVersion = 1

// payload is the versioned envelope stored in queue and conflict rows
type payload struct {
	Version int             `json:"v"`
	Type    Type            `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// upgrades maps an envelope version to the function lifting its data to the
// next version. Empty while only version 1 exists.
var upgrades = map[int]func(Type, json.RawMessage) (json.RawMessage, error){}

// MarshalPayload serializes e into a versioned envelope
func MarshalPayload(e Entity) ([]byte, error) {
	data, err := Encode(e)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(payload{Version: PayloadVersion, Type: e.EntityType(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return out, nil
}

// UnmarshalPayload decodes a versioned envelope, upgrading older versions
func UnmarshalPayload(raw []byte) (Entity, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}

	if p.Version < 1 || p.Version > PayloadVersion {
		return nil, fmt.Errorf("unsupported payload version %d", p.Version)
	}

	for v := p.Version; v < PayloadVersion; v++ {
		upgrade, ok := upgrades[v]
		if !ok {
			return nil, fmt.Errorf("no upgrade path from payload version %d", v)
		}
		data, err := upgrade(p.Type, p.Data)
		if err != nil {
			return nil, fmt.Errorf("upgrading payload from version %d: %w", v, err)
		}
		p.Data = data
	}

	return Decode(p.Type, p.Data)
}
