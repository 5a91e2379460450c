package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"video-generation-service/internal/domain"
)

// PayloadVersion is the envelope version written by this service.
const PayloadVersion = 1

// Payload is an opaque, versioned JSON document. Provider inputs, provider
// results and project data all travel as payloads so that provider specific
// shapes can evolve without schema changes.
//
// On the wire a payload is the envelope {"version":N,"data":...}. Documents
// stored before the envelope existed decode as version 0 with the whole
// document as Data.
type Payload struct {
	Version int
	Data    json.RawMessage
}

type payloadEnvelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// NewPayload serializes v as the data of a current-version payload.
func NewPayload(v any) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return Payload{Version: PayloadVersion, Data: b}, nil
}

// MustPayload is NewPayload for values known to be serializable.
func MustPayload(v any) Payload {
	p, err := NewPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Payload) IsZero() bool {
	d := bytes.TrimSpace(p.Data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

func (p Payload) MarshalJSON() ([]byte, error) {
	data := p.Data
	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(payloadEnvelope{Version: p.Version, Data: data})
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = Payload{}
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err == nil && len(fields) == 2 {
		rawVersion, hasVersion := fields["version"]
		data, hasData := fields["data"]
		var version int
		if hasVersion && hasData && json.Unmarshal(rawVersion, &version) == nil {
			*p = Payload{Version: version, Data: append(json.RawMessage(nil), data...)}
			return nil
		}
	}
	if !json.Valid(b) {
		return fmt.Errorf("%w: malformed json", domain.ErrInvalidPayload)
	}
	*p = Payload{Version: 0, Data: append(json.RawMessage(nil), b...)}
	return nil
}

// Bytes returns the serialized envelope, or nil for an empty payload.
func (p Payload) Bytes() ([]byte, error) {
	if p.IsZero() {
		return nil, nil
	}
	return p.MarshalJSON()
}

// ParsePayload is the inverse of Bytes.
func ParsePayload(b []byte) (Payload, error) {
	var p Payload
	if len(b) == 0 {
		return p, nil
	}
	if err := p.UnmarshalJSON(b); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Decode unmarshals the payload data into v.
func (p Payload) Decode(v any) error {
	if p.IsZero() {
		return fmt.Errorf("%w: empty payload", domain.ErrInvalidPayload)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

func (p Payload) object() (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := p.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: data is not an object", domain.ErrInvalidPayload)
	}
	return obj, nil
}

// With returns a copy of an object payload with key set to value.
// An empty payload is treated as an empty object.
func (p Payload) With(key string, value any) (Payload, error) {
	obj := map[string]json.RawMessage{}
	if !p.IsZero() {
		var err error
		if obj, err = p.object(); err != nil {
			return Payload{}, err
		}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	obj[key] = b
	return NewPayload(obj)
}

// Scenes returns the raw scene list of a project-shaped payload.
func (p Payload) Scenes() ([]json.RawMessage, error) {
	obj, err := p.object()
	if err != nil {
		return nil, err
	}
	raw, ok := obj["scenes"]
	if !ok {
		return nil, fmt.Errorf("%w: no scenes", domain.ErrInvalidPayload)
	}
	var scenes []json.RawMessage
	if err := json.Unmarshal(raw, &scenes); err != nil {
		return nil, fmt.Errorf("%w: scenes is not a list", domain.ErrInvalidPayload)
	}
	return scenes, nil
}

// SceneSlice derives the input of a single scene: every top level setting of
// the payload except the scene list, plus "scene", "scene_index" and
// "scene_count".
func (p Payload) SceneSlice(index int) (Payload, error) {
	scenes, err := p.Scenes()
	if err != nil {
		return Payload{}, err
	}
	if index < 0 || index >= len(scenes) {
		return Payload{}, fmt.Errorf("%w: scene index %d out of range [0,%d)", domain.ErrInvalidArgument, index, len(scenes))
	}
	obj, _ := p.object()
	slice := make(map[string]json.RawMessage, len(obj)+2)
	for k, v := range obj {
		if k == "scenes" {
			continue
		}
		slice[k] = v
	}
	slice["scene"] = scenes[index]
	slice["scene_index"] = json.RawMessage(fmt.Sprintf("%d", index))
	slice["scene_count"] = json.RawMessage(fmt.Sprintf("%d", len(scenes)))
	return NewPayload(slice)
}

// Prompt extracts a human readable generation prompt. It understands a
// "prompt" string, a {"prompt":{"text"|"title"}} object, a scene's
// "prompt"/"description", and a project "title".
func (p Payload) Prompt() string {
	obj, err := p.object()
	if err != nil {
		return ""
	}
	if scene, ok := obj["scene"]; ok {
		if s := promptFrom(scene, "prompt", "description", "text"); s != "" {
			return s
		}
	}
	if raw, ok := obj["prompt"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if s := promptFrom(raw, "text", "title"); s != "" {
			return s
		}
	}
	var parts []string
	if raw, ok := obj["scenes"]; ok {
		var scenes []json.RawMessage
		if json.Unmarshal(raw, &scenes) == nil {
			for _, sc := range scenes {
				if s := promptFrom(sc, "prompt", "description", "text"); s != "" {
					parts = append(parts, s)
				}
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	return promptFrom(p.Data, "title", "description")
}

// Field returns the value of a top level string field.
func (p Payload) Field(key string) string {
	obj, err := p.object()
	if err != nil {
		return ""
	}
	var s string
	if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func promptFrom(raw json.RawMessage, keys ...string) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
