package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/replication"
)

// registerRoutes binds a handler to every peer protocol endpoint. Routes not
// marked public require the swarm key; every route is rate limited.
func registerRoutes(app *fiber.App, n *Node, host core.ReplicaHost) {
	handlers := map[string]fiber.Handler{
		replication.OpHello:    handleHello(n, host),
		replication.OpHeads:    handleHeads(host),
		replication.OpEntry:    handleEntry(host),
		replication.OpAnnounce: handleAnnounce(host),
	}

	for _, e := range replication.Endpoints() {
		h, ok := handlers[e.Metadata.OperationID]
		if !ok {
			n.logger.Warn("no handler for endpoint", "operation", e.Metadata.OperationID)
			continue
		}
		if !e.Metadata.Public {
			h = n.requireSwarmKey(h)
		}
		h = n.rateLimit(h)
		app.Add([]string{e.Method}, e.Path, h)
	}
}
