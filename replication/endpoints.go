package replication

import (
	"github.com/lborres/acartia/core"
)

// Operation ids of the peer protocol
const (
	OpHello       = "hello"
	OpHeads       = "getHeads"
	OpEntry       = "getEntry"
	OpAnnounce    = "announceHeads"
	logPathPrefix = "/logs/:manifest/:name"
)

// Endpoints returns the peer protocol routes. Handlers are supplied by the
// transport adapter, keyed by OperationID.
func Endpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:   "/peer",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: OpHello,
				Description: "Handshake: returns the peer id and advertised url",
				Public:      true,
			},
		},
		{
			Path:   logPathPrefix + "/heads",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: OpHeads,
				Description: "Current heads of a collection log",
			},
		},
		{
			Path:   logPathPrefix + "/entries/:hash",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: OpEntry,
				Description: "One log entry by content hash",
			},
		},
		{
			Path:   logPathPrefix + "/heads",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: OpAnnounce,
				Description: "Announce new heads; the receiver pulls from the announcing peer",
			},
		},
	}
}

// LogPath is the URL path of a collection's log on a peer
func LogPath(a Address) string {
	return "/logs/" + a.Root + "/" + a.Name
}
