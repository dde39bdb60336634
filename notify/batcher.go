package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kufar_watch/models"
)

const (
	DefaultMaxItems = 3
	digestLimit     = 5
)

const (
	mediumAdvisory = "❗️ *Будьте осторожны при сделке*\nРекомендуем встречаться в безопасном месте и проверять товар перед оплатой."
	highAdvisory   = "⚠️ *ВЫСОКИЙ РИСК МОШЕННИЧЕСТВА!*\nНе переводите деньги до личной встречи и проверки товара. Сообщите о подозрительном объявлении Kufar."
	phrasesLabel   = "*Рисковые фразы в объявлении:* "

	newItemsHeader = "✨ *Новые объявления*:\n\n"
	dropsHeader    = "📉 *Цены упали!*\n\n"
	digestHeader   = "✨ *Результаты парсинга:*\n\n"

	NothingFound = "🔍 По вашим фильтрам ничего не найдено\nПопробуйте изменить фильтры или добавить другие ссылки"
	NoSources    = "❌ У вас нет добавленных ссылок!\nСначала добавьте ссылку."
)

// Batcher renders findings as Telegram Markdown messages.
type Batcher struct {
	maxItems int
	currency string
}

func NewBatcher(maxItems int, currency string) *Batcher {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if currency == "" {
		currency = "BYN"
	}
	return &Batcher{maxItems: maxItems, currency: currency}
}

// Shown is how many of n items fit in one message.
func (b *Batcher) Shown(n int) int {
	return min(n, b.maxItems)
}

// Format returns at most one new-items message followed by at most one
// price-drop message. Items past the cap are left out.
func (b *Batcher) Format(newItems []models.Listing, drops []models.PriceDrop) []string {
	var messages []string

	if len(newItems) > 0 {
		var sb strings.Builder
		sb.WriteString(newItemsHeader)
		for _, l := range newItems[:b.Shown(len(newItems))] {
			fmt.Fprintf(&sb, "💰 *%s*\n", b.price(l.Price))
			sb.WriteString(link(l))
			writeAdvisory(&sb, l.Risk)
			sb.WriteString("\n")
		}
		messages = append(messages, sb.String())
	}

	if len(drops) > 0 {
		var sb strings.Builder
		sb.WriteString(dropsHeader)
		for _, d := range drops[:b.Shown(len(drops))] {
			fmt.Fprintf(&sb, "📉 Снижение на *%.1f%%* (%s)!\n", d.DropPercent, b.price(d.DropAmount))
			fmt.Fprintf(&sb, "💰 Было: *%s*\n", b.price(d.OldPrice))
			fmt.Fprintf(&sb, "💰 Стало: *%s*\n", b.price(d.NewPrice))
			sb.WriteString(link(d.Listing))
			writeAdvisory(&sb, d.Listing.Risk)
			sb.WriteString("\n")
		}
		messages = append(messages, sb.String())
	}

	return messages
}

// FormatDigest lists current results for an on-demand pass that found
// nothing new.
func (b *Batcher) FormatDigest(items []models.Listing) string {
	if len(items) == 0 {
		return NothingFound
	}
	var sb strings.Builder
	sb.WriteString(digestHeader)
	for i, l := range items[:min(len(items), digestLimit)] {
		fmt.Fprintf(&sb, "%d. 💰 %s\n", i+1, b.price(l.Price))
		sb.WriteString(link(l))
		writeAdvisory(&sb, l.Risk)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Advisory is the warning block for a risk assessment, empty for RiskNone.
func Advisory(r models.RiskAssessment) string {
	var text string
	switch r.Level {
	case models.RiskHigh:
		text = highAdvisory
	case models.RiskMedium:
		text = mediumAdvisory
	default:
		return ""
	}
	if len(r.MatchedPhrases) > 0 {
		text += "\n\n" + phrasesLabel + escape(strings.Join(r.MatchedPhrases, ", "))
	}
	return text
}

func writeAdvisory(sb *strings.Builder, r models.RiskAssessment) {
	if adv := Advisory(r); adv != "" {
		sb.WriteString("\n" + adv + "\n")
	}
}

func (b *Batcher) price(v int) string {
	return fmt.Sprintf("%d %s", v, b.currency)
}

func link(l models.Listing) string {
	return fmt.Sprintf("📌 [%s](%s)\n", escape(l.Title), l.URL)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
