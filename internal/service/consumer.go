package service

import (
	"context"
	"errors"
	"time"

	"metered-messaging/config"
	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"
	"metered-messaging/pkg/apperror"
	"metered-messaging/pkg/metrics"

	"github.com/rs/zerolog"
)

// Consumer drains the inbound event stream and runs the per-message
// pipeline: meter the inbound event, generate a reply, moderate it,
// reserve credits, send, finalize.
//
// Every delivered entry is acked after processing, success or not.
// Business failures (malformed payload, moderation block, denied
// reservation, provider rejection) are terminal for the message and
// must not cause redelivery; only a crash leaves an entry unacked, and
// the ledger's idempotency absorbs the resulting redelivery.
type Consumer struct {
	stream        ports.EventStream
	ledger        ports.CreditLedger
	conversations ports.ConversationStore
	replies       ports.ReplyGenerator
	moderator     ports.Moderator
	transport     ports.SendTransport
	log           zerolog.Logger

	readCount   int64
	readBlock   time.Duration
	messageCost int64
}

// NewConsumer creates the inbound event consumer.
func NewConsumer(
	stream ports.EventStream,
	ledger ports.CreditLedger,
	conversations ports.ConversationStore,
	replies ports.ReplyGenerator,
	moderator ports.Moderator,
	transport ports.SendTransport,
	streamCfg config.StreamConfig,
	creditsCfg config.CreditsConfig,
	log zerolog.Logger,
) *Consumer {
	return &Consumer{
		stream:        stream,
		ledger:        ledger,
		conversations: conversations,
		replies:       replies,
		moderator:     moderator,
		transport:     transport,
		log:           log.With().Str("component", "consumer").Logger(),
		readCount:     streamCfg.Count,
		readBlock:     streamCfg.Block,
		messageCost:   creditsCfg.MessageCost,
	}
}

// Run blocks reading the stream until ctx is cancelled. Stream-level
// errors are logged and retried after a short backoff; they never stop
// the loop.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx); err != nil {
		return apperror.ErrStreamError(err)
	}
	c.log.Info().Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer stopping")
			return ctx.Err()
		default:
		}

		msgs, err := c.stream.Read(ctx, c.readCount, c.readBlock)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.log.Error().Err(err).Msg("stream read failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handleEvent(ctx, msg)
			if err := c.stream.Ack(ctx, msg.ID); err != nil {
				c.log.Error().Err(err).Str("stream_id", msg.ID).Msg("ack failed")
			}
		}

		if depth, err := c.stream.Len(ctx); err == nil {
			metrics.StreamDepth.Set(float64(depth))
		}
	}
}

// handleEvent processes one delivered entry. It never returns an error:
// each failure mode below is terminal for this message and the entry is
// acked by the caller regardless.
func (c *Consumer) handleEvent(ctx context.Context, msg ports.StreamMessage) {
	log := c.log.With().Str("stream_id", msg.ID).Str("event_id", msg.EventID).Logger()

	event, err := domain.ParseInboundEvent(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("malformed event dropped")
		return
	}
	log = log.With().Str("tenant_id", event.TenantID).Logger()

	// Meter the inbound message. Zero units: inbound is free, the entry
	// exists for audit and idempotent redelivery detection.
	inRes, err := c.ledger.Reserve(ctx, ports.ReserveRequest{
		TenantID:   event.TenantID,
		EventID:    domain.InboundEventID(msg.EventID),
		Direction:  domain.DirectionIn,
		Units:      0,
		ReasonCode: "inbound_message",
		Metadata:   map[string]any{"from": event.From},
	})
	if err != nil {
		log.Error().Err(err).Msg("inbound reserve failed")
		return
	}
	if _, err := c.ledger.Finalize(ctx, event.TenantID, domain.InboundEventID(msg.EventID)); err != nil {
		log.Error().Err(err).Msg("inbound finalize failed")
		return
	}
	if inRes.Outcome == domain.OutcomeReserved {
		metrics.IncMessage(event.TenantID, "in")
	}

	convID, err := c.conversations.Touch(ctx, event.TenantID, event.From)
	if err != nil {
		log.Error().Err(err).Msg("conversation touch failed")
		return
	}
	log = log.With().Str("conversation_id", convID).Logger()

	reply, err := c.replies.GenerateReply(ctx, event.TenantID, event.Text, nil)
	if err != nil {
		log.Error().Err(err).Msg("reply generation failed")
		return
	}

	verdict, err := c.moderator.Moderate(ctx, event.TenantID, reply)
	if err != nil {
		log.Error().Err(err).Msg("moderation failed")
		return
	}
	if !verdict.Allowed {
		metrics.ModerationBlocks.WithLabelValues(event.TenantID).Inc()
		log.Warn().Str("reason", verdict.Reason).Msg("reply blocked by moderation")
		return
	}

	outEventID := domain.OutboundEventID(msg.EventID)
	outRes, err := c.ledger.Reserve(ctx, ports.ReserveRequest{
		TenantID:   event.TenantID,
		EventID:    outEventID,
		Direction:  domain.DirectionOut,
		Units:      c.messageCost,
		ReasonCode: "auto_reply",
		Metadata:   map[string]any{"to": event.From, "conversation_id": convID},
	})
	if err != nil {
		log.Error().Err(err).Msg("outbound reserve failed")
		return
	}
	if !outRes.Granted() {
		log.Warn().Msg("reply suppressed: reservation denied")
		return
	}
	// A redelivered event whose reply already finalized must not send twice.
	if outRes.Outcome == domain.OutcomeAlreadyReserved && outRes.Entry.Status != domain.StatusReserved {
		log.Info().Str("status", string(outRes.Entry.Status)).Msg("reply already settled, skipping send")
		return
	}

	sent, err := c.transport.Send(ctx, event.TenantID, ports.OutboundMessage{To: event.From, Text: reply})
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(c.transport.Name()).Inc()
		log.Error().Err(err).Msg("send transport error, reservation left for retry")
		return
	}
	if !sent.OK {
		metrics.ProviderErrors.WithLabelValues(c.transport.Name()).Inc()
		log.Warn().Str("provider_error", sent.Error).Msg("provider rejected send, reservation left for retry")
		return
	}

	if _, err := c.ledger.Finalize(ctx, event.TenantID, outEventID); err != nil {
		log.Error().Err(err).Msg("outbound finalize failed")
		return
	}
	metrics.IncMessage(event.TenantID, "out")
	log.Info().Str("provider_ref", sent.ProviderRef).Msg("reply sent")
}
