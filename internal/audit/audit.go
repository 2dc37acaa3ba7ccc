// Package audit writes append-only audit events, attaching the request's
// user agent and client IP. Audit writes never fail the surrounding
// operation: a failed append is logged, nothing more. Only successful
// appends are counted in the audit events metric.
package audit

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/vault-service/internal/model"
	registrystore "github.com/chirino/vault-service/internal/registry/store"
	"github.com/chirino/vault-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Emit appends one audit event, filling in id, timestamp, and the request's
// user agent and client IP.
func Emit(c *gin.Context, st registrystore.VaultStore, ev model.AuditEvent) {
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	if ua := c.Request.UserAgent(); ua != "" {
		ev.UserAgent = &ua
	}
	if ip := c.ClientIP(); ip != "" {
		ev.IP = &ip
	}

	if err := st.AppendAudit(c.Request.Context(), ev); err != nil {
		log.Error("Failed to write audit event",
			"vaultId", ev.VaultID.String(),
			"eventType", ev.EventType,
			"err", err,
		)
		return
	}
	if security.AuditEventsTotal != nil {
		security.AuditEventsTotal.WithLabelValues(string(ev.EventType)).Inc()
	}
}
