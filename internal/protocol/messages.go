package protocol

// hello (client -> server). First message on a producer connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	GameVersion     string `json:"game_version,omitempty"`
}

// welcome (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// chunk-data (client -> server). The batch fields are inlined into the message.
type ChunkDataMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CompressedBatch
}

// error (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		Code:            code,
		Message:         message,
	}
}
