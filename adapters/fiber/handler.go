package fiber

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
	"github.com/lborres/acartia/replication"
)

// handleHello returns a handler for the handshake endpoint
func handleHello(n *Node, host core.ReplicaHost) fiber.Handler {
	return func(c fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(core.PeerInfo{
			ID:  host.PeerID(),
			URL: n.URL(),
		})
	}
}

// handleHeads returns a handler for the heads query
func handleHeads(host core.ReplicaHost) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := checkAddress(c, host); err != nil {
			return handleError(c, err)
		}
		return c.Status(http.StatusOK).JSON(core.HeadsResponse{
			Address: host.Address(),
			Heads:   host.Heads(),
		})
	}
}

// handleEntry returns a handler for the single entry query
func handleEntry(host core.ReplicaHost) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := checkAddress(c, host); err != nil {
			return handleError(c, err)
		}
		hash := c.Params("hash")
		if !crypto.IsContentHash(hash) {
			return handleError(c, core.ErrValidationFailure)
		}

		e, ok := host.Entry(hash)
		if !ok {
			return handleError(c, core.ErrEntryNotFound)
		}
		return c.Status(http.StatusOK).JSON(e)
	}
}

// handleAnnounce returns a handler for head announcements. The pull runs
// asynchronously on the receiving participant.
func handleAnnounce(host core.ReplicaHost) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := checkAddress(c, host); err != nil {
			return handleError(c, err)
		}

		var a core.Announcement
		if err := c.Bind().Body(&a); err != nil {
			return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{
				Error: "invalid request body",
				Code:  http.StatusBadRequest,
			})
		}
		if a.From == "" {
			return handleError(c, core.ErrValidationFailure)
		}

		host.Announce(c.Context(), a)
		return c.SendStatus(http.StatusAccepted)
	}
}

// checkAddress matches the :manifest/:name params against the served collection
func checkAddress(c fiber.Ctx, host core.ReplicaHost) error {
	address := replication.AddressPrefix + c.Params("manifest") + "/" + c.Params("name")
	if address != host.Address() {
		return core.ErrInvalidAddress
	}
	return nil
}

// extractToken returns the bearer token, or "" when absent
func extractToken(c fiber.Ctx) string {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		return authHeader[7:]
	}
	return ""
}

// handleError maps protocol errors to HTTP responses
func handleError(c fiber.Ctx, err error) error {
	status := mapErrorToStatus(err)
	return c.Status(status).JSON(core.ErrorResponse{
		Error: err.Error(),
		Code:  status,
	})
}

func mapErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrEntryNotFound):
		return http.StatusNotFound

	case errors.Is(err, core.ErrValidationFailure):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrAuthorizationDenied):
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}

// handleFiberError covers errors fiber raises itself, such as unknown routes
func (n *Node) handleFiberError(c fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	} else {
		n.logger.Error("peer request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(core.ErrorResponse{
		Error: http.StatusText(status),
		Code:  status,
	})
}
