package organize

import (
	"fmt"
	"strings"
	"time"

	"tg-collector/internal/domain"
)

const promptTemplate = `Organize the following Telegram messages for a NotebookLM podcast.

Requirements:
1. Group all messages by theme automatically (no limit on the number of themes).
2. Within each theme, order content chronologically or logically.
3. Produce structured Markdown with metadata.
4. Do not narrow the topics: include every piece of information.
5. Structure it conversationally so NotebookLM can easily build a podcast from it.

Output format:
# %[1]s Telegram messages digest

## Overview
- Messages processed: %[2]d
- Data source: Telegram
- Collected at: %[3]s

## Themes

### Theme 1: [extracted theme name]

[content of the related messages]
[include senders and times]
[preserve conversation flow and context]

### Theme 2: [extracted theme name]

...

---

## Input messages:

%[4]s
---

Analyse the messages above, group them into meaningful themes and produce structured Markdown.
There is no limit on the number of themes. Keep every piece of information.
`

// BuildPrompt собирает запрос к модели из всех сообщений.
func BuildPrompt(messages []domain.RawMessage, now time.Time) string {
	var b strings.Builder
	for i, m := range messages {
		fmt.Fprintf(&b, "[%d] %s | %s | %s:\n%s\n\n", i+1, formatTime(m.Timestamp), sourceName(m), senderName(m), m.Text)
	}
	return fmt.Sprintf(promptTemplate, now.Format("2006-01-02"), len(messages), now.Format("2006-01-02 15:04"), b.String())
}

// FallbackDocument детерминированно перечисляет сообщения без участия модели.
func FallbackDocument(messages []domain.RawMessage, now time.Time) string {
	var b strings.Builder
	writeHeader(&b, now, len(messages))
	b.WriteString("- Note: AI organization failed, raw messages are recorded instead\n\n")
	b.WriteString("## Messages\n\n")
	for i, m := range messages {
		fmt.Fprintf(&b, "### Message %d\n\n", i+1)
		fmt.Fprintf(&b, "- **Date**: %s\n", formatTime(m.Timestamp))
		fmt.Fprintf(&b, "- **Chat**: %s\n", sourceName(m))
		fmt.Fprintf(&b, "- **Sender**: %s\n\n", senderName(m))
		b.WriteString(m.Text)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

// EmptyDocument документ для дня без сообщений.
func EmptyDocument(now time.Time) string {
	var b strings.Builder
	writeHeader(&b, now, 0)
	b.WriteString("\n## No messages\n\nThere were no messages to process today.\n")
	return b.String()
}

func writeHeader(b *strings.Builder, now time.Time, count int) {
	fmt.Fprintf(b, "# %s Telegram messages digest\n\n", now.Format("2006-01-02"))
	b.WriteString("## Overview\n")
	fmt.Fprintf(b, "- Messages processed: %d\n", count)
	b.WriteString("- Data source: Telegram\n")
	fmt.Fprintf(b, "- Collected at: %s\n", now.Format("2006-01-02 15:04"))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04")
}

func sourceName(m domain.RawMessage) string {
	if m.SourceName != "" {
		return m.SourceName
	}
	if m.SourceID != "" {
		return m.SourceID
	}
	return "Unknown"
}

func senderName(m domain.RawMessage) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return "Unknown"
}
