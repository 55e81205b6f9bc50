package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/requestid"
	"github.com/p-blackswan/checkin-agent/internal/whatsapp"
)

// verifyWebhook answers the subscription handshake.
func (s *Server) verifyWebhook(c *fiber.Ctx) error {
	challenge, ok := whatsapp.VerifyChallenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		s.config.VerifyToken,
	)
	if !ok {
		s.logger.Warn().Str("ip", c.IP()).Msg("webhook verification rejected")
		return c.SendStatus(fiber.StatusForbidden)
	}
	return c.SendString(challenge)
}

// receiveWebhook handles a notification. Events are handled in order; a
// storage failure answers 500 so the platform redelivers the batch, and
// the events already handled are then absorbed as duplicates.
func (s *Server) receiveWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()
	log := requestid.Logger(ctx, s.logger)
	body := c.Body()

	if err := whatsapp.VerifySignature(s.config.AppSecret, c.Get(whatsapp.SignatureHeader), body); err != nil {
		log.Warn().Err(err).Str("ip", c.IP()).Msg("webhook signature rejected")
		return problemFor(c, err)
	}
	if s.deps.Parser == nil || s.deps.Agent == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable, "unavailable", "Service Unavailable",
			"Webhook handling is not configured")
	}

	events, skipped, err := s.deps.Parser.Parse(body)
	if err != nil {
		log.Warn().Err(err).Msg("malformed webhook")
		return problemFor(c, err)
	}
	if skipped.Stale > 0 || skipped.Unrouted > 0 {
		log.Info().Int("stale", skipped.Stale).Int("unrouted", skipped.Unrouted).Msg("webhook messages skipped")
	}

	handled, duplicates := 0, 0
	for _, ev := range events {
		res, err := s.deps.Agent.Handle(ctx, ev)
		switch {
		case errors.Is(err, perrors.ErrStorage):
			log.Error().Err(err).Str("message_id", ev.MessageID).Msg("event not stored")
			return problemFor(c, err)
		case err != nil:
			log.Warn().Err(err).Str("message_id", ev.MessageID).Msg("event rejected")
			continue
		case res.Duplicate:
			duplicates++
		default:
			handled++
		}
	}

	return c.JSON(fiber.Map{
		"received":   handled,
		"duplicates": duplicates,
		"skipped":    skipped.Stale + skipped.Unrouted,
	})
}
