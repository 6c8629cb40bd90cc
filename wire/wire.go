// Package wire defines the typed messages exchanged between relay clients and
// the server. Every frame on a client connection is one Message envelope; the
// server reads only the routing fields (type, otp, role) and copies payload
// fields through verbatim.
package wire

import "encoding/json"

// Type discriminates relay messages.
type Type string

// Inbound (client -> server) message types.
const (
	TypeRegisterOTP      Type = "register_otp"
	TypeFileMetadata     Type = "file_metadata"
	TypeFileChunk        Type = "file_chunk"
	TypeTransferComplete Type = "transfer_complete"
)

// Outbound (server -> client) message types. TypeFileChunk and
// TypeTransferComplete flow in both directions.
const (
	TypeOTPRegistered     Type = "otp_registered"
	TypeReceiverConnected Type = "receiver_connected"
	TypeFileIncoming      Type = "file_incoming"
	TypePeerDisconnected  Type = "peer_disconnected"
	TypeError             Type = "error"
)

// Message is the single wire envelope. Fields beyond Type are type-specific;
// absent fields are omitted from the encoded form. Metadata and FileID are
// kept as raw JSON so the relay never imposes a schema on client payloads.
type Message struct {
	Type Type   `json:"type"`
	OTP  string `json:"otp,omitempty"`
	Role string `json:"role,omitempty"`

	// Message carries human-readable text on server-originated frames.
	Message string `json:"message,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`
	FileID   json.RawMessage `json:"file_id,omitempty"`
	Chunk    string          `json:"chunk,omitempty"`

	// IsLast is a pointer so that forwarded chunks always carry the flag
	// (true or false) while non-chunk frames omit it entirely.
	IsLast *bool `json:"is_last,omitempty"`
}

// NewError builds an error reply for the originating client.
func NewError(msg string) *Message {
	return &Message{Type: TypeError, Message: msg}
}

// NewOTPRegistered acknowledges a successful register_otp.
func NewOTPRegistered(msg string) *Message {
	return &Message{Type: TypeOTPRegistered, Message: msg}
}

// NewReceiverConnected notifies a bound sender that the receiver joined.
func NewReceiverConnected() *Message {
	return &Message{
		Type:    TypeReceiverConnected,
		Message: "Receiver has joined. Ready to transfer files.",
	}
}

// NewFileIncoming forwards announced file metadata to the receiver.
func NewFileIncoming(metadata json.RawMessage) *Message {
	return &Message{Type: TypeFileIncoming, Metadata: metadata}
}

// NewFileChunk builds a forwarded chunk. The is_last flag is always present
// on the wire, matching what senders produce.
func NewFileChunk(fileID json.RawMessage, chunk string, isLast bool) *Message {
	return &Message{Type: TypeFileChunk, FileID: fileID, Chunk: chunk, IsLast: &isLast}
}

// NewTransferComplete notifies the counterparty that the transfer finished.
func NewTransferComplete() *Message {
	return &Message{
		Type:    TypeTransferComplete,
		Message: "File transfer completed successfully.",
	}
}

// NewPeerDisconnected notifies the surviving party of a session.
func NewPeerDisconnected() *Message {
	return &Message{Type: TypePeerDisconnected, Message: "The other device disconnected."}
}

// Last reports the is_last flag, treating an absent flag as false.
func (m *Message) Last() bool {
	return m.IsLast != nil && *m.IsLast
}
