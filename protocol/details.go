package protocol

// ProtocolVersion is the static protocol version this client speaks.
const ProtocolVersion = "0.1"

// ClientVersion is the static client library version advertised in SETUP.
// Overridden by build tooling via -ldflags in release builds; the zero
// value below is what a from-source build reports.
var ClientVersion = "0.0.0"

// Details mirrors spec.md's "Connection details" record: two static
// fields, two negotiated-at-runtime fields.
type Details struct {
	ProtocolVersion         string
	ClientVersion           string
	ServerVersion           string
	ClientKeepaliveTimeout  int // seconds, configured
	ServerKeepaliveTimeout  int // seconds, learned at setup
}

// SetupVersion returns the "<protocolVersion>-<clientVersion>" string sent
// in the outbound SETUP message.
func (d Details) SetupVersion() string {
	return d.ProtocolVersion + "-" + d.ClientVersion
}
