package notify

// Message rendering for every monitor type. Selection is a lookup table
// keyed by (monitorType, templateTag), not a conditional chain: adding a
// brand template is a table entry, not a code path.

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"watcher-hub/internal/watcher"
)

// Payload is the typed input every template receives.
type Payload struct {
	DisplayName string
	EventName   string
	GroupTag    string
	Value       string
	Threshold   string
	ChangePct   string // signed percentage, empty when unknown
	Alert       bool
}

// TemplateFunc renders one message body (Telegram HTML).
type TemplateFunc func(p Payload) string

type templateKey struct {
	Type watcher.MonitorType
	Tag  string
}

var templates = map[templateKey]TemplateFunc{
	{watcher.TypePrice, ""}:             priceTemplate,
	{watcher.TypeFloorPrice, ""}:        floorPriceTemplate,
	{watcher.TypeTransactionVolume, ""}: txVolumeTemplate,
	{watcher.TypeEvent, ""}:             eventTemplate,
	{watcher.TypeOwnership, ""}:         ownershipTemplate,
	{watcher.TypeBalance, ""}:           balanceTemplate,
	{watcher.TypeWhaleTransfer, ""}:     whaleTransferTemplate,
	{watcher.TypePlayerStat, ""}:        playerStatTemplate,
	{watcher.TypeVaultActivity, ""}:     vaultActivityTemplate,
	{watcher.TypeMarketplaceSale, ""}:   marketplaceSaleTemplate,

	// Brand variants selected by templateTag.
	{watcher.TypePrice, "compact"}:           priceCompactTemplate,
	{watcher.TypeMarketplaceSale, "gallery"}: marketplaceGalleryTemplate,
}

// RegisterTemplate adds or overrides a template for (monitorType, tag).
func RegisterTemplate(t watcher.MonitorType, tag string, fn TemplateFunc) {
	templates[templateKey{t, tag}] = fn
}

// lookupTemplate resolves (type, tag) with fallback to the type default
// and finally a generic renderer.
func lookupTemplate(t watcher.MonitorType, tag string) TemplateFunc {
	if fn, ok := templates[templateKey{t, tag}]; ok {
		return fn
	}
	if fn, ok := templates[templateKey{t, ""}]; ok {
		return fn
	}
	return genericTemplate
}

// BuildPayload assembles the template payload from a monitor and outcome.
func BuildPayload(m watcher.Monitor, out watcher.Outcome, changePct string) Payload {
	return Payload{
		DisplayName: html.EscapeString(m.DisplayName),
		EventName:   html.EscapeString(m.EventName),
		GroupTag:    html.EscapeString(m.GroupTag),
		Value:       out.Value.String(),
		Threshold:   m.Threshold.String(),
		ChangePct:   changePct,
		Alert:       out.ConditionMet,
	}
}

// Format renders the monitor-type-specific message for an outcome.
func Format(m watcher.Monitor, out watcher.Outcome, changePct string) string {
	fn := lookupTemplate(m.Type, m.TemplateTag)
	return fn(BuildPayload(m, out, changePct))
}

// FormatError renders the onError channel message.
func FormatError(m watcher.Monitor, fetchErr error) string {
	return fmt.Sprintf("⚠️ <b>%s</b>\n\n<blockquote>Check failed: %s\nThe watcher keeps running and will retry.</blockquote>",
		html.EscapeString(m.DisplayName), html.EscapeString(fetchErr.Error()))
}

// FormatWelcome renders the per-monitor welcome sent when a start event
// binds a destination.
func FormatWelcome(m watcher.Monitor) string {
	return fmt.Sprintf("👋 Watching <b>%s</b> (%s)\n\n<blockquote>Checked every %d min\nThreshold: <code>%s</code></blockquote>",
		html.EscapeString(m.DisplayName), m.Type, m.CheckIntervalMinutes, m.Threshold.String())
}

// FormatGenericWelcome is sent when a start event matched no monitor.
func FormatGenericWelcome() string {
	return "👋 This bot delivers watcher alerts. No watcher is configured " +
		"for it yet — deploy one from the dashboard and it will report here."
}

// ChangePct formats the percentage move between two values, or "" when
// there is no meaningful previous value.
func ChangePct(prev, cur decimal.Decimal) string {
	if prev.IsZero() {
		return ""
	}
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	s := pct.String()
	if pct.GreaterThan(decimal.Zero) {
		s = "+" + s
	}
	return s + "%"
}

func header(emoji, name string, alert bool) string {
	label := "update"
	if alert {
		label = "ALERT"
	}
	return fmt.Sprintf("%s <b>%s</b> — %s\n\n", emoji, name, label)
}

func changeLine(p Payload) string {
	if p.ChangePct == "" {
		return ""
	}
	return fmt.Sprintf("Change: <i>%s</i>\n", p.ChangePct)
}

func priceTemplate(p Payload) string {
	msg := header("🟢", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Price: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Limit: <code>%s</code>\n", p.Threshold)
	msg += changeLine(p)
	msg += "</blockquote>"
	return msg
}

func priceCompactTemplate(p Payload) string {
	return fmt.Sprintf("🟢 %s: <code>%s</code> / <code>%s</code> %s",
		p.DisplayName, p.Value, p.Threshold, p.ChangePct)
}

func floorPriceTemplate(p Payload) string {
	msg := header("🖼", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Floor: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Target: <code>%s</code>\n", p.Threshold)
	msg += changeLine(p)
	msg += "</blockquote>"
	return msg
}

func txVolumeTemplate(p Payload) string {
	msg := header("📊", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Transactions: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Limit: <code>%s</code>\n", p.Threshold)
	msg += "</blockquote>"
	return msg
}

func eventTemplate(p Payload) string {
	name := p.EventName
	if name == "" {
		name = p.DisplayName
	}
	msg := header("📣", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Event: <b>%s</b>\n", name)
	msg += fmt.Sprintf("Occurrences: <code>%s</code>\n", p.Value)
	msg += "</blockquote>"
	return msg
}

func ownershipTemplate(p Payload) string {
	msg := header("🔑", p.DisplayName, p.Alert)
	if p.Alert {
		msg += "<blockquote>Ownership changed.</blockquote>"
	} else {
		msg += "<blockquote>Ownership unchanged.</blockquote>"
	}
	return msg
}

func balanceTemplate(p Payload) string {
	msg := header("💰", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Balance: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Low-water mark: <code>%s</code>\n", p.Threshold)
	msg += "</blockquote>"
	return msg
}

func whaleTransferTemplate(p Payload) string {
	msg := header("🐋", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Transfer amount: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Limit: <code>%s</code>\n", p.Threshold)
	msg += "</blockquote>"
	return msg
}

func playerStatTemplate(p Payload) string {
	msg := header("🎮", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Stat: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Limit: <code>%s</code>\n", p.Threshold)
	msg += "</blockquote>"
	return msg
}

func vaultActivityTemplate(p Payload) string {
	msg := header("🏦", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Vault operations: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Limit: <code>%s</code>\n", p.Threshold)
	msg += "</blockquote>"
	return msg
}

func marketplaceSaleTemplate(p Payload) string {
	msg := header("🛒", p.DisplayName, p.Alert)
	msg += "<blockquote>"
	msg += fmt.Sprintf("Sale price: <code>%s</code>\n", p.Value)
	msg += fmt.Sprintf("Watch limit: <code>%s</code>\n", p.Threshold)
	msg += changeLine(p)
	msg += "</blockquote>"
	return msg
}

func marketplaceGalleryTemplate(p Payload) string {
	tag := p.GroupTag
	if tag != "" {
		tag = " [" + tag + "]"
	}
	return fmt.Sprintf("🛒 <b>%s</b>%s sold for <code>%s</code> (watching ≥ <code>%s</code>)",
		p.DisplayName, tag, p.Value, p.Threshold)
}

func genericTemplate(p Payload) string {
	var b strings.Builder
	b.WriteString(header("🔔", p.DisplayName, p.Alert))
	b.WriteString("<blockquote>")
	b.WriteString(fmt.Sprintf("Value: <code>%s</code>\n", p.Value))
	b.WriteString(fmt.Sprintf("Threshold: <code>%s</code>\n", p.Threshold))
	b.WriteString("</blockquote>")
	return b.String()
}
