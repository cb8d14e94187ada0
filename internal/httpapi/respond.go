// Package httpapi is the thin HTTP surface spec §6 describes: gin
// handlers that decode a request, call exactly one Coordinator method,
// and render the result. No business logic lives here — every invariant
// and state transition is owned by the package the handler delegates to.
//
// Grounded on guiperry-HASHER's cmd/driver/hasher-host/main.go
// (gin.New + gin.Recovery, grouped routes, gin.H JSON bodies), narrowed
// to the uniform {"ok": true, ...} / {"ok": false, "error": "..."}
// envelope spec §6 mandates.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

// ok renders a successful response, merging fields into {"ok": true}.
func ok(c *gin.Context, fields gin.H) {
	if fields == nil {
		fields = gin.H{}
	}
	fields["ok"] = true
	c.JSON(200, fields)
}

// fail renders err as {"ok": false, "error": "..."}, mapping its Kind to
// the HTTP status code spec §7 assigns. Non-benchapi errors are rendered
// as 500 internal.
func fail(c *gin.Context, err error) {
	if be, ok := benchapi.As(err); ok {
		c.JSON(be.Kind.StatusCode(), gin.H{"ok": false, "error": string(be.Kind), "message": be.Message})
		return
	}
	c.JSON(500, gin.H{"ok": false, "error": "internal", "message": err.Error()})
}

// badRequest renders a bad_request error without needing a benchapi.Error
// round-trip, for request decoding failures.
func badRequest(c *gin.Context, msg string) {
	c.JSON(400, gin.H{"ok": false, "error": string(benchapi.BadRequest), "message": msg})
}
