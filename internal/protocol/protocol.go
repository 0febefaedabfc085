package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeViewer  = "VIEWER"
	TypeEdit    = "EDIT"
	TypeAck     = "ACK"
	TypeMesh    = "MESH"
	TypeRetract = "RETRACT"
	TypeError   = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Compatible reports whether a client speaking v can talk to this server.
// Only the major version has to match.
func Compatible(v string) bool {
	if v == "" {
		return false
	}
	return major(v) == major(Version)
}

func major(v string) string {
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return v[:i]
		}
	}
	return v
}
