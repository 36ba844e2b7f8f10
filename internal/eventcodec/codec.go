// Package eventcodec turns loosely typed event documents (gRPC Struct
// messages, JSON request bodies, recorded YAML events) into typed engine
// events and request contexts.
package eventcodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"gopkg.in/yaml.v3"
)

// ErrUnknownKind is returned for an event type the engine does not know.
var ErrUnknownKind = errors.New("unknown event kind")

// NewEvent returns an empty event of the given kind.
func NewEvent(kind engine.Kind) (engine.Event, error) {
	switch kind {
	case engine.KindSQL:
		return &engine.SQLEvent{}, nil
	case engine.KindSSRF:
		return &engine.SSRFEvent{}, nil
	case engine.KindDirectory:
		return &engine.DirectoryEvent{}, nil
	case engine.KindReadFile:
		return &engine.ReadFileEvent{}, nil
	case engine.KindWriteFile:
		return &engine.WriteFileEvent{}, nil
	case engine.KindFileUpload:
		return &engine.FileUploadEvent{}, nil
	case engine.KindWebdav:
		return &engine.WebdavEvent{}, nil
	case engine.KindRename:
		return &engine.RenameEvent{}, nil
	case engine.KindInclude:
		return &engine.IncludeEvent{}, nil
	case engine.KindCommand:
		return &engine.CommandEvent{}, nil
	case engine.KindXXE:
		return &engine.XXEEvent{}, nil
	case engine.KindOGNL:
		return &engine.OGNLEvent{}, nil
	case engine.KindDeserialization:
		return &engine.DeserializationEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// DecodeEvent decodes the kind-specific fields of an event.
// Scalars are converted loosely (a single "ip" string becomes a list).
func DecodeEvent(kind string, fields map[string]any) (engine.Event, error) {
	ev, err := NewEvent(engine.Kind(kind))
	if err != nil {
		return nil, err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ev,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(fields); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	return ev, nil
}

// contextFields mirrors engine.RequestContext plus the nested "server"
// block some agents send ({"server": {"language": "java", "os": "Linux"}}).
type contextFields struct {
	Parameters  any               `mapstructure:"parameter"`
	Method      string            `mapstructure:"method"`
	Headers     map[string]string `mapstructure:"header"`
	URL         string            `mapstructure:"url"`
	AppBasePath string            `mapstructure:"appBasePath"`
	Language    string            `mapstructure:"language"`
	OS          string            `mapstructure:"os"`
	Stack       []string          `mapstructure:"stack"`
	Server      struct {
		Language string `mapstructure:"language"`
		OS       string `mapstructure:"os"`
	} `mapstructure:"server"`
}

// decodeParams decodes request parameters through their JSON form, which
// flattens nested form arrays. A generic map has no key order, so object
// keys come out sorted; agents that need submission order over a Struct
// send the list form [{"name": ..., "values": [...]}].
func decodeParams(data any) (engine.Params, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case engine.Params:
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("parameters: %w", err)
	}
	var p engine.Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeContext decodes a request context document. A nil document yields
// an empty context.
func DecodeContext(fields map[string]any) (*engine.RequestContext, error) {
	var cf contextFields
	if fields != nil {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &cf,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(fields); err != nil {
			return nil, fmt.Errorf("decode request context: %w", err)
		}
	}

	params, err := decodeParams(cf.Parameters)
	if err != nil {
		return nil, err
	}
	rc := &engine.RequestContext{
		Parameters:  params,
		Method:      cf.Method,
		Headers:     cf.Headers,
		URL:         cf.URL,
		AppBasePath: cf.AppBasePath,
		Language:    cf.Language,
		OS:          cf.OS,
		Stack:       cf.Stack,
	}
	if rc.Language == "" {
		rc.Language = cf.Server.Language
	}
	if rc.OS == "" {
		rc.OS = cf.Server.OS
	}
	return rc, nil
}

// Envelope is one inspected operation as sent by an agent:
//
//	{"type": "sql", "params": {"query": "...", "server": "mysql"}, "context": {...}}
//
// Decoding an envelope from JSON or YAML keeps the submission order of
// context.parameter, which the SQL user-input check depends on.
type Envelope struct {
	Type    string         `json:"type" yaml:"type" mapstructure:"type"`
	Params  map[string]any `json:"params" yaml:"params" mapstructure:"params"`
	Context map[string]any `json:"context" yaml:"context" mapstructure:"context"`

	parameters engine.Params
	ordered    bool
}

// UnmarshalJSON decodes an envelope, reading context.parameter in document
// order.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    string          `json:"type"`
		Params  map[string]any  `json:"params"`
		Context json.RawMessage `json:"context"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope{Type: raw.Type, Params: raw.Params}
	ctx := bytes.TrimSpace(raw.Context)
	if len(ctx) == 0 || bytes.Equal(ctx, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(ctx, &e.Context); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ctx, &fields); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if p, ok := fields["parameter"]; ok {
		return e.setParameters(p)
	}
	return nil
}

// UnmarshalYAML decodes an envelope, reading context.parameter in document
// order.
func (e *Envelope) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type    string         `yaml:"type"`
		Params  map[string]any `yaml:"params"`
		Context yaml.Node      `yaml:"context"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*e = Envelope{Type: raw.Type, Params: raw.Params}
	if raw.Context.Kind != yaml.MappingNode {
		return nil
	}
	if err := raw.Context.Decode(&e.Context); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	for i := 0; i+1 < len(raw.Context.Content); i += 2 {
		if raw.Context.Content[i].Value != "parameter" {
			continue
		}
		var buf bytes.Buffer
		if err := writeNodeJSON(&buf, raw.Context.Content[i+1]); err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
		return e.setParameters(buf.Bytes())
	}
	return nil
}

func (e *Envelope) setParameters(data []byte) error {
	var p engine.Params
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	e.parameters = p
	e.ordered = true
	return nil
}

// writeNodeJSON renders a YAML node as JSON with mapping keys in document
// order.
func writeNodeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNodeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNodeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNodeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNodeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}

// Map renders the envelope as a generic document for a Struct request.
// Ordered parameters are written in the list form so the order survives.
func (e Envelope) Map() map[string]any {
	doc := map[string]any{"type": e.Type}
	if e.Params != nil {
		doc["params"] = e.Params
	}
	if e.Context == nil && !e.ordered {
		return doc
	}
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	if e.ordered {
		list := make([]any, 0, len(e.parameters))
		for _, p := range e.parameters {
			values := make([]any, len(p.Values))
			for i, v := range p.Values {
				values[i] = v
			}
			item := map[string]any{"name": p.Name, "values": values}
			if p.Nested {
				item["nested"] = true
			}
			list = append(list, item)
		}
		ctx["parameter"] = list
	}
	doc["context"] = ctx
	return doc
}

// Decode converts an envelope into a typed event and request context.
// A "stack" sent with the event params is moved to the context.
func (e Envelope) Decode() (engine.Event, *engine.RequestContext, error) {
	ev, err := DecodeEvent(e.Type, e.Params)
	if err != nil {
		return nil, nil, err
	}
	rc, err := DecodeContext(e.Context)
	if err != nil {
		return nil, nil, err
	}
	if e.ordered {
		rc.Parameters = e.parameters
	}
	if len(rc.Stack) == 0 {
		if stack, ok := e.Params["stack"]; ok {
			var frames []string
			if err := mapstructure.WeakDecode(stack, &frames); err != nil {
				return nil, nil, fmt.Errorf("decode stack: %w", err)
			}
			rc.Stack = frames
		}
	}
	return ev, rc, nil
}

// DecodeMap decodes an envelope held in a generic map (gRPC Struct, YAML).
func DecodeMap(doc map[string]any) (engine.Event, *engine.RequestContext, error) {
	var env Envelope
	if err := mapstructure.Decode(doc, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Decode()
}

// VerdictFields renders a verdict as a generic map for Struct responses.
func VerdictFields(v engine.Verdict) map[string]any {
	return map[string]any{
		"action":     v.Action.String(),
		"message":    v.Message,
		"confidence": float64(v.Confidence),
		"algorithm":  v.Algorithm,
	}
}
