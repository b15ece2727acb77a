package distclient

import "os"

// ProtocolVersion is the wire protocol version advertised in the
// connection handshake (original_source: PROTOCOL_VERSION).
const ProtocolVersion = 21

func localHostName() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
