package aiservice

import (
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You record what happens in a screen or camera recording.
Describe only what is visible or audible. Focus on concrete actions, the tools
or interfaces in use and their results. Reply in Markdown without wrapping it
in a code block. Use [mm:ss] anchors relative to the start of the recording.`

// analysisPrompt builds the user prompt for one window or a full video.
func analysisPrompt(req AnalyzeRequest) string {
	var b strings.Builder
	if req.Mode == ModeTagFull {
		b.WriteString("Describe this complete recording from start to finish.\n")
	} else {
		fmt.Fprintf(&b, "This clip covers [%s, %s) of a longer recording. "+
			"Your description will be joined with the descriptions of neighbouring clips.\n",
			clock(req.StartOffset), clock(req.EndOffset))
		if req.Context != "" {
			b.WriteString("\nThe previous clip ended with:\n")
			b.WriteString(req.Context)
			b.WriteString("\n\nThe clips overlap, so do not repeat what was already described.\n")
		}
	}
	if m := strings.TrimSpace(req.UserMemory); m != "" && m != "{}" {
		b.WriteString("\nWhat is known about the user (JSON):\n")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String()
}

const titleSystemPrompt = `Write a short title (at most 12 words) for a recording,
given the descriptions of its parts. Reply with the title only.`

const memorySystemPrompt = `From the descriptions of a recording, extract stable facts
about the user (skills, tools, habits, preferences) as one JSON object. Reply
with JSON only. Reply {} if nothing new was learned.`

func summaryPrompt(req SummaryRequest) string {
	var b strings.Builder
	if m := strings.TrimSpace(req.UserMemory); m != "" && m != "{}" {
		b.WriteString("Known about the user (JSON):\n")
		b.WriteString(m)
		b.WriteString("\n\n")
	}
	for i, r := range req.Results {
		fmt.Fprintf(&b, "Part %d:\n%s\n\n", i+1, r)
	}
	return b.String()
}

func clock(sec float64) string {
	s := int(sec)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
