package botmgr

// Inbound session commands. All handlers are read-only against the
// registry except /start, which binds destinations. None of them touch
// pausedByUser or thresholds; those mutate only through the HTTP surface.

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"watcher-hub/internal/charts"
	log "watcher-hub/internal/infra/log"
	"watcher-hub/internal/notify"
	"watcher-hub/internal/watcher"
)

// updateLoop consumes Telegram updates for one session until the
// connection is stopped. Handlers run to completion, one per event.
func (m *Manager) updateLoop(sess *session) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = m.opts.UpdateTimeout

	updates := sess.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		if !update.Message.IsCommand() {
			continue
		}

		command := update.Message.Command()
		args := update.Message.CommandArguments()

		log.LogDebug("Received command",
			zap.String("command", command),
			zap.Int64("chatID", update.Message.Chat.ID),
			zap.String("username", update.Message.From.UserName))

		switch command {
		case "start":
			m.handleStart(sess, update.Message)
		case "status":
			m.handleStatus(sess, update.Message)
		case "list":
			m.handleList(sess, update.Message)
		case "watcher":
			m.handleWatcherDetail(sess, update.Message, strings.TrimSpace(args))
		case "bots":
			m.handleBots(sess, update.Message)
		case "help":
			m.handleHelp(sess, update.Message)
		}
	}
}

// handleStart is the session-binding resolver: it links this chat to
// every monitor configured with the session's credential. Re-sending
// start re-binds already-bound monitors to this chat (last start wins).
func (m *Manager) handleStart(sess *session, message *tgbotapi.Message) {
	newly, matched := m.registry.Bind(sess.credential, message.Chat.ID)

	log.LogInfo("Start received",
		zap.Int64("chatID", message.Chat.ID),
		zap.Int("matched", matched),
		zap.Int("newlyBound", len(newly)))

	if len(newly) == 0 {
		m.reply(sess, message.Chat.ID, notify.FormatGenericWelcome())
		return
	}
	for _, mon := range newly {
		m.reply(sess, message.Chat.ID, notify.FormatWelcome(mon))
	}
}

func (m *Manager) handleStatus(sess *session, message *tgbotapi.Message) {
	monitors := m.registry.ForCredential(sess.credential)
	if len(monitors) == 0 {
		m.reply(sess, message.Chat.ID, "No watchers configured for this bot.")
		return
	}

	var active, alerting, stopped, unbound int
	for _, mon := range monitors {
		switch {
		case !mon.Bound():
			unbound++
		case mon.PausedByUser:
			stopped++
		case mon.LastKnownStatus != nil && mon.LastKnownStatus.Status == watcher.StatusAlertTriggered:
			alerting++
		default:
			active++
		}
	}

	text := fmt.Sprintf("Watchers on this bot: <b>%d</b>\n\n<blockquote>Active: %d\nAlerting: %d\nStopped: %d\nAwaiting /start: %d</blockquote>",
		len(monitors), active, alerting, stopped, unbound)
	m.reply(sess, message.Chat.ID, text)
}

func (m *Manager) handleList(sess *session, message *tgbotapi.Message) {
	monitors := m.registry.ForCredential(sess.credential)
	if len(monitors) == 0 {
		m.reply(sess, message.Chat.ID, "No watchers configured for this bot.")
		return
	}

	var lines []string
	for _, mon := range monitors {
		lines = append(lines, fmt.Sprintf("%s <b>%s</b> (%s) — every %d min",
			statusGlyph(mon), html.EscapeString(mon.DisplayName), mon.Type, mon.CheckIntervalMinutes))
	}
	m.reply(sess, message.Chat.ID, strings.Join(lines, "\n"))
}

// handleWatcherDetail renders the last reconciled snapshot for the first
// watcher whose display name contains the given substring, attaching a
// value-history chart when enough history exists.
func (m *Manager) handleWatcherDetail(sess *session, message *tgbotapi.Message, substr string) {
	if substr == "" {
		m.reply(sess, message.Chat.ID, "Usage: /watcher {name}\n\nExample: /watcher ETH floor")
		return
	}

	matches := m.registry.FindByName(sess.credential, substr)
	if len(matches) == 0 {
		m.reply(sess, message.Chat.ID, fmt.Sprintf("No watcher matching {%s}", html.EscapeString(substr)))
		return
	}

	mon := matches[0]
	text := renderDetail(mon)

	points := m.registry.History(mon.ID)
	if m.opts.ChartsDir == "" || len(points) < 2 {
		m.reply(sess, message.Chat.ID, text)
		return
	}

	chartPath, err := charts.RenderHistory(m.opts.ChartsDir, mon.DisplayName, points)
	if err != nil {
		log.LogWarn("Failed to render history chart", zap.String("id", mon.ID), zap.Error(err))
		m.reply(sess, message.Chat.ID, text)
		return
	}
	if _, err := os.Stat(chartPath); err != nil {
		log.LogError("Chart file does not exist", zap.String("chartPath", chartPath), zap.Error(err))
		m.reply(sess, message.Chat.ID, text)
		return
	}

	photo := tgbotapi.NewPhoto(message.Chat.ID, tgbotapi.FilePath(chartPath))
	photo.Caption = text
	photo.ParseMode = tgbotapi.ModeHTML
	if _, err := sess.api.Send(photo); err != nil {
		log.LogError("Failed to send chart photo", zap.String("chartPath", chartPath), zap.Error(err))
		m.reply(sess, message.Chat.ID, text)
	}
}

func (m *Manager) handleBots(sess *session, message *tgbotapi.Message) {
	infos := m.Sessions()
	var lines []string
	for _, info := range infos {
		lines = append(lines, fmt.Sprintf("@%s — %d watcher(s)", html.EscapeString(info.Username), info.MonitorCount))
	}
	m.reply(sess, message.Chat.ID, "Live bot sessions:\n"+strings.Join(lines, "\n"))
}

func (m *Manager) handleHelp(sess *session, message *tgbotapi.Message) {
	helpText := "" +
		"Commands:\n" +
		"• <code>/start</code> - bind this chat to your watchers\n" +
		"• <code>/status</code> - watcher counts per state\n" +
		"• <code>/list</code> - all watchers on this bot\n" +
		"• <code>/watcher {name}</code> - latest check for one watcher\n" +
		"• <code>/bots</code> - live bot sessions\n" +
		"• <code>/help</code> - this message"
	m.reply(sess, message.Chat.ID, helpText)
}

// reply sends one HTML message through the session, under its limiter.
func (m *Manager) reply(sess *session, chatID int64, text string) {
	ctx, cancel := replyContext()
	defer cancel()
	if err := sess.limiter.Wait(ctx); err != nil {
		log.LogWarn("Reply rate limiter wait failed", zap.Error(err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := sess.api.Send(msg); err != nil {
		log.LogError("Failed to send reply", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

func replyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func statusGlyph(mon watcher.Monitor) string {
	switch {
	case !mon.Bound():
		return "⏳"
	case mon.PausedByUser:
		return "⏸"
	case mon.LastKnownStatus != nil && mon.LastKnownStatus.Status == watcher.StatusAlertTriggered:
		return "🔔"
	default:
		return "🟢"
	}
}

func renderDetail(mon watcher.Monitor) string {
	text := fmt.Sprintf("%s <b>%s</b> (%s)\n\n", statusGlyph(mon), html.EscapeString(mon.DisplayName), mon.Type)
	text += "<blockquote>"
	text += fmt.Sprintf("Interval: %d min\n", mon.CheckIntervalMinutes)
	text += fmt.Sprintf("Threshold: <code>%s</code>\n", mon.Threshold.String())
	if mon.LastKnownStatus != nil {
		text += fmt.Sprintf("Last value: <code>%s</code>\n", mon.LastKnownStatus.Value.String())
		text += fmt.Sprintf("Condition met: %v\n", mon.LastKnownStatus.ConditionMet)
		text += fmt.Sprintf("Checked: %s\n", mon.LastKnownStatus.CheckedAt.Format("02 Jan 15:04"))
	} else {
		text += "Not checked yet\n"
	}
	text += "</blockquote>"
	return text
}
