package botmgr

// Package botmgr owns one live Telegram session per distinct credential.
// Sessions are created lazily on first registration, shared by every
// monitor configured with the same credential, and torn down (after a
// grace period) once their monitor set empties.

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	log "watcher-hub/internal/infra/log"
	"watcher-hub/internal/watcher"
)

// Options tunes session behaviour.
type Options struct {
	UpdateTimeout int           // long-poll timeout in seconds
	TeardownGrace time.Duration // delay before an empty session is closed
	SendRate      float64       // messages per second per session
	SendBurst     int
	ChartsDir     string // empty disables chart rendering for /watcher
}

func (o Options) withDefaults() Options {
	if o.UpdateTimeout <= 0 {
		o.UpdateTimeout = 60
	}
	if o.TeardownGrace <= 0 {
		o.TeardownGrace = 30 * time.Second
	}
	if o.SendRate <= 0 {
		o.SendRate = 1.0
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 4
	}
	return o
}

// session is one live bot connection plus the set of monitor ids riding it.
type session struct {
	credential string
	api        BotAPI
	limiter    *rate.Limiter
	monitors   map[string]struct{}
	teardown   *time.Timer
}

// BotInfo describes a credential's bot identity, used by the test endpoint.
type BotInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// SessionInfo summarises one live session for the /bots command.
type SessionInfo struct {
	Username     string
	MonitorCount int
}

// Manager keeps exactly one session per distinct credential. It implements
// the registry's SessionBinder and the dispatcher's Sender.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	factory  APIFactory
	registry *watcher.Registry
	opts     Options
}

// NewManager builds a session manager over an API factory.
func NewManager(registry *watcher.Registry, factory APIFactory, opts Options) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		factory:  factory,
		registry: registry,
		opts:     opts.withDefaults(),
	}
}

// Acquire associates a monitor with the credential's session, creating
// the session on first use. A pending teardown is cancelled.
func (m *Manager) Acquire(credential, monitorID string) error {
	m.mu.Lock()
	if sess, ok := m.sessions[credential]; ok {
		if sess.teardown != nil {
			sess.teardown.Stop()
			sess.teardown = nil
		}
		sess.monitors[monitorID] = struct{}{}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// Connection construction may dial Telegram; keep it outside the lock.
	api, err := m.factory(credential)
	if err != nil {
		return fmt.Errorf("session construction failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[credential]; ok {
		// Lost a race to a concurrent acquire for the same credential.
		api.StopReceivingUpdates()
		if sess.teardown != nil {
			sess.teardown.Stop()
			sess.teardown = nil
		}
		sess.monitors[monitorID] = struct{}{}
		return nil
	}

	sess := &session{
		credential: credential,
		api:        api,
		limiter:    rate.NewLimiter(rate.Limit(m.opts.SendRate), m.opts.SendBurst),
		monitors:   map[string]struct{}{monitorID: {}},
	}
	m.sessions[credential] = sess
	go m.updateLoop(sess)

	log.LogSuccess("Bot session created", zap.String("username", api.Self().UserName))
	return nil
}

// Release detaches a monitor from its session. Once the monitor set is
// empty the connection is closed after the grace period, unless a new
// registration re-acquires it first.
func (m *Manager) Release(credential, monitorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[credential]
	if !ok {
		return
	}
	delete(sess.monitors, monitorID)
	if len(sess.monitors) > 0 {
		return
	}

	if sess.teardown != nil {
		sess.teardown.Stop()
	}
	sess.teardown = time.AfterFunc(m.opts.TeardownGrace, func() {
		m.closeIfEmpty(credential)
	})
}

func (m *Manager) closeIfEmpty(credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[credential]
	if !ok || len(sess.monitors) > 0 {
		return
	}
	sess.api.StopReceivingUpdates()
	delete(m.sessions, credential)
	log.LogInfo("Bot session torn down", zap.String("username", sess.api.Self().UserName))
}

// Close tears down every session immediately.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for credential, sess := range m.sessions {
		if sess.teardown != nil {
			sess.teardown.Stop()
		}
		sess.api.StopReceivingUpdates()
		delete(m.sessions, credential)
	}
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HasSession reports whether a live session exists for credential.
func (m *Manager) HasSession(credential string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[credential]
	return ok
}

// Sessions lists live sessions for the /bots command.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, SessionInfo{
			Username:     sess.api.Self().UserName,
			MonitorCount: len(sess.monitors),
		})
	}
	return out
}

// SendMessage delivers one HTML message through the credential's session,
// respecting the per-session rate limiter.
func (m *Manager) SendMessage(ctx context.Context, credential string, chatID int64, htmlText string) error {
	m.mu.Lock()
	sess, ok := m.sessions[credential]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session for credential")
	}

	if err := sess.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, htmlText)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := sess.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

// TestCredential validates a credential by constructing a transient
// connection and reading the bot identity. No session is registered.
func (m *Manager) TestCredential(credential string) (BotInfo, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[credential]; ok {
		self := sess.api.Self()
		m.mu.Unlock()
		return BotInfo{ID: self.ID, Username: self.UserName, Name: self.FirstName}, nil
	}
	m.mu.Unlock()

	api, err := m.factory(credential)
	if err != nil {
		return BotInfo{}, fmt.Errorf("invalid credential: %w", err)
	}
	self := api.Self()
	api.StopReceivingUpdates()
	return BotInfo{ID: self.ID, Username: self.UserName, Name: self.FirstName}, nil
}

// SendTestMessage delivers a plain test message, reusing a live session
// when one exists.
func (m *Manager) SendTestMessage(ctx context.Context, credential string, chatID int64) error {
	m.mu.Lock()
	_, ok := m.sessions[credential]
	m.mu.Unlock()

	text := "✅ Test message from your watcher bot."
	if ok {
		return m.SendMessage(ctx, credential, chatID, text)
	}

	api, err := m.factory(credential)
	if err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}
	defer api.StopReceivingUpdates()

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}
