package notifier

import (
	"strings"
	"time"
)

const maxMessageLen = 3800

// Section 是通知中的一个段落，每行渲染为 "- line"。
type Section struct {
	Title string
	Lines []string
}

// Message 统一的推送格式：标题、代码块段落、时间戳。
type Message struct {
	Icon     string
	Title    string
	Sections []Section
	Time     time.Time
}

// Markdown 渲染消息，超长时截断。
func (m Message) Markdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	var body []string
	for _, sec := range m.Sections {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		var part strings.Builder
		if title := strings.TrimSpace(sec.Title); title != "" {
			part.WriteString(escapeFence(title) + "\n")
		}
		for _, line := range lines {
			part.WriteString("- " + escapeFence(line) + "\n")
		}
		body = append(body, part.String())
	}
	if len(body) > 0 {
		b.WriteString("```\n" + strings.Join(body, "\n") + "```\n\n")
	}
	if !m.Time.IsZero() {
		b.WriteString("时间：" + m.Time.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxMessageLen {
		out = out[:maxMessageLen] + "..."
	}
	return out
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
