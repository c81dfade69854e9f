package ros

import (
	"bytes"
)

// MessageType describes a generated message: its definition text, its full
// name (package/Type) and the MD5 sum checked during the TCPROS handshake.
type MessageType interface {
	Text() string
	MD5Sum() string
	Name() string
	NewMessage() Message
}

type Message interface {
	Type() MessageType
	Serialize(buf *bytes.Buffer) error
	Deserialize(buf *bytes.Reader) error
}
