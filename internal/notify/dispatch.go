package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	log "watcher-hub/internal/infra/log"
	"watcher-hub/internal/watcher"
)

// Sender delivers one rendered message through the bot session bound to a
// credential. Implemented by the bot session manager.
type Sender interface {
	SendMessage(ctx context.Context, credential string, chatID int64, htmlText string) error
}

// Dispatcher routes rendered messages through bound sessions and owns the
// notification bookkeeping: a log entry and lastNotifiedAt on success, an
// error entry and an untouched timestamp on failure so the next sweep
// retries promptly.
type Dispatcher struct {
	registry *watcher.Registry
	sender   Sender
	now      func() time.Time
}

// NewDispatcher builds a dispatcher over the registry and a sender.
func NewDispatcher(registry *watcher.Registry, sender Sender) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sender:   sender,
		now:      time.Now,
	}
}

// SetClock overrides the time source, used by tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// NotifyAlert renders and sends an alert message.
func (d *Dispatcher) NotifyAlert(ctx context.Context, m watcher.Monitor, out watcher.Outcome) error {
	return d.send(ctx, m, Format(m, out, d.changePct(m.ID, out.Value)), "alert", out)
}

// NotifyStatus renders and sends a periodic status message.
func (d *Dispatcher) NotifyStatus(ctx context.Context, m watcher.Monitor, out watcher.Outcome) error {
	return d.send(ctx, m, Format(m, out, d.changePct(m.ID, out.Value)), "status", out)
}

// NotifyError sends an onError channel message. It advances only the
// error channel's timestamp, never lastNotifiedAt.
func (d *Dispatcher) NotifyError(ctx context.Context, m watcher.Monitor, fetchErr error) error {
	if m.Destination == nil {
		return fmt.Errorf("%w: monitor %s has no destination", watcher.ErrDispatch, m.ID)
	}

	text := FormatError(m, fetchErr)
	if err := d.sender.SendMessage(ctx, m.Credential, *m.Destination, text); err != nil {
		d.registry.AppendLog(m.ID, watcher.LogKindError, "error notification dispatch failed", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %v", watcher.ErrDispatch, err)
	}

	now := d.now()
	d.registry.MarkErrorNotified(m.ID, now)
	d.registry.AppendLog(m.ID, watcher.LogKindError, "error notification sent", map[string]interface{}{
		"fetchError": fetchErr.Error(),
	})
	log.LogInfo("Error notification sent", zap.String("id", m.ID))
	return nil
}

func (d *Dispatcher) send(ctx context.Context, m watcher.Monitor, text, kind string, out watcher.Outcome) error {
	if m.Destination == nil {
		return fmt.Errorf("%w: monitor %s has no destination", watcher.ErrDispatch, m.ID)
	}

	if err := d.sender.SendMessage(ctx, m.Credential, *m.Destination, text); err != nil {
		// lastNotifiedAt stays untouched: the monitor remains due and
		// the next sweep retries with freshly reconciled data.
		d.registry.AppendLog(m.ID, watcher.LogKindError, "dispatch failed", map[string]interface{}{
			"kind":  kind,
			"error": err.Error(),
		})
		log.LogWarn("Dispatch failed", zap.String("id", m.ID), zap.String("kind", kind), zap.Error(err))
		return fmt.Errorf("%w: %v", watcher.ErrDispatch, err)
	}

	now := d.now()
	d.registry.MarkNotified(m.ID, now)
	d.registry.AppendLog(m.ID, watcher.LogKindNotification, "notification sent", map[string]interface{}{
		"kind":         kind,
		"value":        out.Value.String(),
		"conditionMet": out.ConditionMet,
	})
	log.LogSuccess("Notification sent",
		zap.String("id", m.ID),
		zap.String("kind", kind),
		zap.String("value", out.Value.String()))
	return nil
}

// changePct derives the move against the previous recorded value. The
// scheduler records the current outcome before dispatch, so the previous
// point is the second-to-last history entry.
func (d *Dispatcher) changePct(id string, cur decimal.Decimal) string {
	points := d.registry.History(id)
	if len(points) < 2 {
		return ""
	}
	return ChangePct(points[len(points)-2].Value, cur)
}
