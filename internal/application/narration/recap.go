package narration

import (
	"fmt"
	"strings"

	"github.com/tablehub/tablehub/internal/domain/adventure"
)

// ChapterMarker is the structural marker the engine is instructed to put at
// the top of a chapter summary.
const ChapterMarker = "[CHAPTER SUMMARY]"

const (
	// RecapWindow is how many recent entries survive when history has no
	// chapter summaries.
	RecapWindow = 60
	recapHead   = 4
)

// IsChapterSummary reports whether e is a narrator chapter summary.
func IsChapterSummary(e adventure.Entry) bool {
	return e.Kind == adventure.SpeakerNarrator && strings.Contains(e.Text, ChapterMarker)
}

// BuildRecap reconstructs a size-bounded textual history.
func BuildRecap(history []adventure.Entry) string {
	last := -1
	var summaries []string
	for i, e := range history {
		if IsChapterSummary(e) {
			last = i
			summaries = append(summaries, strings.TrimSpace(e.Text))
		}
	}

	if last >= 0 {
		var b strings.Builder
		b.WriteString("=== PRIOR CHAPTERS (condensed) ===\n")
		b.WriteString(strings.Join(summaries, "\n\n"))
		b.WriteString("\n\n=== CURRENT CHAPTER ===\n")
		b.WriteString(RenderEntries(history[last+1:]))
		return strings.TrimRight(b.String(), "\n")
	}

	if len(history) > RecapWindow {
		head := min(recapHead, len(history)-RecapWindow)
		tail := history[len(history)-RecapWindow:]
		omitted := len(history) - RecapWindow - head
		var b strings.Builder
		b.WriteString(RenderEntries(history[:head]))
		if omitted > 0 {
			fmt.Fprintf(&b, "\n\n[... %d earlier messages omitted ...]", omitted)
		}
		b.WriteString("\n\n")
		b.WriteString(RenderEntries(tail))
		return b.String()
	}

	return RenderEntries(history)
}

// RenderEntries renders entries in order, one block per entry.
func RenderEntries(entries []adventure.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, speakerLabel(e.Kind)+": "+strings.TrimSpace(e.Text))
	}
	return strings.Join(parts, "\n\n")
}

func speakerLabel(kind adventure.SpeakerKind) string {
	if kind == adventure.SpeakerNarrator {
		return "DM"
	}
	return "Player"
}
