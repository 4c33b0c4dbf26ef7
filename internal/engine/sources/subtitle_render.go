package sources

import (
	"fmt"
	"strings"
)

// Subtitle output rendering.

// RenderSRT converts subtitle lines to SRT cue format.
func RenderSRT(lines []SubtitleLine) string {
	var sb strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTime(l.From), srtTime(l.To), l.Content)
	}
	return sb.String()
}

// RenderText joins non-empty cue contents, one per line, no timing.
func RenderText(lines []SubtitleLine) string {
	var sb strings.Builder
	for _, l := range lines {
		content := strings.TrimSpace(l.Content)
		if content == "" {
			continue
		}
		sb.WriteString(content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// srtTime formats seconds as HH:MM:SS,mmm.
func srtTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	millis := int((seconds - float64(total)) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		total/3600, (total%3600)/60, total%60, millis)
}
