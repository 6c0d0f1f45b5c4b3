// Package delivery fans a matched message out to a rule's destinations.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/fink5984/telefeed/internal/bus"
	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/rules"
)

// emptyPlaceholder is sent instead of an empty text body.
const emptyPlaceholder = " "

// Config configures an Engine.
type Config struct {
	Events *bus.EventBus
	Logger *slog.Logger
}

// Engine delivers messages through a domain.Sender according to a rule's mode.
// It holds no per-message state and may be shared between workers.
type Engine struct {
	events *bus.EventBus
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{events: cfg.Events, logger: cfg.Logger}
}

// Deliver sends msg to every destination of rule, in order, and returns one
// outcome per destination entry. A failed destination never stops delivery to
// the remaining ones.
func (e *Engine) Deliver(ctx context.Context, account string, sender domain.Sender, msg domain.Message, rule *rules.Rule) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, 0, len(rule.Destinations))
	attempted := make(map[int64]struct{}, len(rule.Destinations))

	for _, dest := range rule.Destinations {
		out := domain.DeliveryOutcome{
			Account:   account,
			RuleIndex: rule.Index,
			Source:    msg.ChatID,
			Dest:      dest,
			Mode:      string(rule.Mode),
		}

		switch _, dup := attempted[dest]; {
		case dest == msg.ChatID:
			out.Status = domain.OutcomeSkipped
			out.Reason = domain.SkipSelfDestination
		case dup:
			out.Status = domain.OutcomeSkipped
			out.Reason = domain.SkipDuplicate
		default:
			attempted[dest] = struct{}{}
			start := time.Now()
			err := e.dispatch(ctx, sender, dest, msg, rule)
			out.Duration = time.Since(start)
			if err != nil {
				out.Status = domain.OutcomeFailed
				out.Err = domain.TransportError(dest, err)
			} else {
				out.Status = domain.OutcomeSent
			}
		}

		e.report(out)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (e *Engine) dispatch(ctx context.Context, sender domain.Sender, dest int64, msg domain.Message, rule *rules.Rule) error {
	if rule.Mode == rules.ModeForward {
		return sender.Forward(ctx, dest, msg)
	}

	text := msg.Text
	if rule.Mode == rules.ModePrefix {
		text = ApplyPrefix(rule.Prefix, text)
	}
	if msg.Media != nil {
		return sender.SendMedia(ctx, dest, *msg.Media, text)
	}
	if text == "" {
		text = emptyPlaceholder
	}
	return sender.SendText(ctx, dest, text)
}

// ApplyPrefix prepends prefix and a space to text. Empty text or an empty
// prefix leave text unchanged.
func ApplyPrefix(prefix, text string) string {
	if prefix == "" || text == "" {
		return text
	}
	return prefix + " " + text
}

func (e *Engine) report(out domain.DeliveryOutcome) {
	attrs := []any{
		"account", out.Account,
		"rule", out.RuleIndex,
		"source", out.Source,
		"dest", out.Dest,
		"mode", out.Mode,
	}
	switch out.Status {
	case domain.OutcomeSent:
		e.logger.Info("message delivered", append(attrs, "duration", out.Duration)...)
	case domain.OutcomeSkipped:
		e.logger.Debug("delivery skipped", append(attrs, "reason", out.Reason)...)
	case domain.OutcomeFailed:
		e.logger.Error("delivery failed", append(attrs, "err", out.Err)...)
	}

	e.events.Emit(bus.Event{
		Type:    bus.EventDelivery,
		Account: out.Account,
		Payload: map[string]any{
			"rule":    out.RuleIndex,
			"source":  out.Source,
			"dest":    out.Dest,
			"mode":    out.Mode,
			"status":  string(out.Status),
			"reason":  out.Reason,
			"seconds": out.Duration.Seconds(),
		},
	})
}
