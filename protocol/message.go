// Package protocol defines the logical message shape and the pure
// classification rules that separate connection-level traffic from
// channel-level traffic, and lifecycle traffic from opaque payload.
package protocol

import "encoding/json"

// Message is the logical wire shape every frame of this protocol carries:
// a type tag and a channel number, plus whatever fields that type defines.
// The spec leaves concrete wire encoding unspecified; this client encodes
// messages as JSON objects. Fields other than type/channel are opaque to
// the core and carried in Fields.
type Message struct {
	Type    string
	Channel int
	Fields  map[string]any
}

// New builds a Message with the given type, channel, and extra fields.
// fields may be nil.
func New(typ string, channel int, fields map[string]any) Message {
	return Message{Type: typ, Channel: channel, Fields: fields}
}

// Encode marshals m to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	obj := make(map[string]any, len(m.Fields)+2)
	for k, v := range m.Fields {
		obj[k] = v
	}
	obj["type"] = m.Type
	obj["channel"] = m.Channel
	return json.Marshal(obj)
}

// Decode unmarshals a JSON wire message into a Message. Unknown or
// type-specific fields are preserved in Fields for callers (or the
// engine's typed accessors) to pull out.
func Decode(data []byte) (Message, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return Message{}, err
	}

	m := Message{Fields: make(map[string]any, len(obj))}
	for k, v := range obj {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				m.Type = s
			}
		case "channel":
			if f, ok := v.(float64); ok {
				m.Channel = int(f)
			}
		default:
			m.Fields[k] = v
		}
	}
	return m, nil
}

// String returns a field as a string, or "" if absent or the wrong type.
func (m Message) String(key string) string {
	if v, ok := m.Fields[key].(string); ok {
		return v
	}
	return ""
}

// Int returns a field as an int, or 0 if absent or the wrong type.
func (m Message) Int(key string) int {
	switch v := m.Fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Connection-level message types (channel 0).
const (
	TypeSetup      = "SETUP"
	TypeAuthState  = "AUTH_STATE"
	TypeAuth       = "AUTH"
	TypeKeepalive  = "KEEPALIVE"
	TypeError      = "ERROR"
)

// Channel-level lifecycle message types (channel != 0).
const (
	TypeChannelRequest = "CHANNEL_REQUEST"
	TypeChannelOpened  = "CHANNEL_OPENED"
	TypeChannelCancel  = "CHANNEL_CANCEL"
	TypeChannelClosed  = "CHANNEL_CLOSED"
)

// AuthState values carried by an AUTH_STATE message.
const (
	AuthUnauthorized = "UNAUTHORIZED"
	AuthAuthorizing  = "AUTHORIZING"
	AuthAuthorized   = "AUTHORIZED"
)

// ErrorKindTimeout is the one error kind the client itself ever emits; all
// other kinds are server-defined tags surfaced as-is.
const ErrorKindTimeout = "TIMEOUT"

// Kind classifies a Message into connection-level vs channel-level, and
// within each, lifecycle vs payload. Classification is pure and depends
// only on Channel and Type.
type Kind int

const (
	// KindConnection is a connection-level message (Channel == 0).
	KindConnection Kind = iota
	// KindChannelLifecycle is a channel-level lifecycle message.
	KindChannelLifecycle
	// KindChannelPayload is an opaque, pass-through channel message.
	KindChannelPayload
)

var connectionTypes = map[string]bool{
	TypeSetup:     true,
	TypeAuthState: true,
	TypeAuth:      true,
	TypeKeepalive: true,
	TypeError:     true,
}

var lifecycleTypes = map[string]bool{
	TypeChannelRequest: true,
	TypeChannelOpened:  true,
	TypeChannelCancel:  true,
	TypeChannelClosed:  true,
	TypeError:          true,
}

// IsConnectionMessage reports whether m is a connection-level message.
func IsConnectionMessage(m Message) bool {
	return m.Channel == 0
}

// IsLifecycle reports whether a channel-level message (m.Channel != 0) is a
// lifecycle message as opposed to an opaque payload message.
func IsLifecycle(m Message) bool {
	return lifecycleTypes[m.Type]
}

// Classify returns the Kind of m per spec: connection-level if Channel==0,
// else lifecycle or payload depending on Type.
func Classify(m Message) Kind {
	if IsConnectionMessage(m) {
		return KindConnection
	}
	if IsLifecycle(m) {
		return KindChannelLifecycle
	}
	return KindChannelPayload
}

// KnownConnectionType reports whether typ is one of the recognized
// connection-level message types. Unknown types on channel 0 are dropped
// by the engine rather than misrouted to channel dispatch.
func KnownConnectionType(typ string) bool {
	return connectionTypes[typ]
}
