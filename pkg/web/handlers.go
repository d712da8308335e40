package web

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// handleHealth reports liveness and the active session count.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	stats := s.manager.Stats()
	return c.JSON(fiber.Map{
		"status":          "ok",
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"active_sessions": stats.Active,
	})
}

// handleMetrics exposes aggregate counters in Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	stats := s.manager.Stats()

	var b strings.Builder
	b.WriteString("# HELP voicebridge_sessions_active Currently live call sessions.\n")
	b.WriteString("# TYPE voicebridge_sessions_active gauge\n")
	fmt.Fprintf(&b, "voicebridge_sessions_active %d\n", stats.Active)

	b.WriteString("# HELP voicebridge_sessions_started_total Sessions accepted since start.\n")
	b.WriteString("# TYPE voicebridge_sessions_started_total counter\n")
	fmt.Fprintf(&b, "voicebridge_sessions_started_total %d\n", stats.TotalStarted)

	b.WriteString("# HELP voicebridge_sessions_rejected_total Sessions rejected, by reason.\n")
	b.WriteString("# TYPE voicebridge_sessions_rejected_total counter\n")
	fmt.Fprintf(&b, "voicebridge_sessions_rejected_total{reason=\"capacity\"} %d\n", stats.RejectedCapacity)
	fmt.Fprintf(&b, "voicebridge_sessions_rejected_total{reason=\"duplicate_uuid\"} %d\n", stats.RejectedDuplicate)

	var dropped uint64
	for _, snap := range s.manager.Snapshot() {
		dropped += snap.DroppedFrames
	}
	b.WriteString("# HELP voicebridge_outbound_dropped_frames Outbound frames dropped on live sessions.\n")
	b.WriteString("# TYPE voicebridge_outbound_dropped_frames gauge\n")
	fmt.Fprintf(&b, "voicebridge_outbound_dropped_frames %d\n", dropped)

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}

// handleSessions lists snapshots of all live sessions.
func (s *Server) handleSessions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": s.manager.Snapshot()})
}

// handleSession returns one session by call UUID.
func (s *Server) handleSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid call id"})
	}

	sess, ok := s.manager.Lookup(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(sess.Snapshot())
}
