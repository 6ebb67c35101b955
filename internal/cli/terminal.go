package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	indexStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	inlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Underline(true)
	defaultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("176"))
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// renderUpdate formats up to limit matches of u, one per line.
func renderUpdate(query string, u suggest.Update, limit int, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d matches for '%s' [%s, %v]",
		len(u.Matches), query, u.State, elapsed.Round(time.Millisecond))))

	if len(u.Matches) == 0 {
		return b.String()
	}
	for i, m := range u.Matches {
		if limit > 0 && i >= limit {
			break
		}
		b.WriteByte('\n')
		b.WriteString(renderMatch(i, m))
	}
	return b.String()
}

// renderMatch prints the default marker, the text with its inline completion
// set apart, the kind and the relevance.
func renderMatch(i int, m suggest.Suggestion) string {
	marker := " "
	if i == 0 && m.AllowedAsDefault {
		marker = defaultStyle.Render("*")
	}

	text := m.Text
	if m.Kind == suggest.Navigation && m.Description != "" {
		text = m.Text + " - " + m.Description
	}
	var shown string
	if m.InlineCompletion != "" && strings.HasSuffix(m.Text, m.InlineCompletion) {
		shown = textStyle.Render(strings.TrimSuffix(m.Text, m.InlineCompletion)) + inlineStyle.Render(m.InlineCompletion)
	} else {
		shown = textStyle.Render(text)
	}

	line := fmt.Sprintf("%s %s %s  %s %s",
		indexStyle.Render(fmt.Sprintf("%2d.", i+1)),
		marker,
		shown,
		kindStyle.Render(m.Kind.String()),
		metaStyle.Render(fmt.Sprintf("(%d)", m.Relevance)),
	)
	if m.Answer != nil {
		line += " " + metaStyle.Render(m.Answer.Text)
	}
	if m.Annotation != "" {
		line += " " + metaStyle.Render(m.Annotation)
	}
	return line
}
