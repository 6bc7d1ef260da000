package ai

import (
	"fmt"
	"strings"
)

// maxContextChars bounds how much note text a prompt may carry.
const maxContextChars = 4000

// NoteDigest is the minimal note view the prompt builders work with.
type NoteDigest struct {
	ID      string
	Title   string
	Content string
}

func truncate(s string) string {
	if len(s) <= maxContextChars {
		return s
	}
	return s[:maxContextChars] + "\n... (truncated)"
}

func noteBlock(title, content string) string {
	return truncate(fmt.Sprintf("Title: %s\n\n%s", title, content))
}

// SummarizePrompt asks for a short summary of one note.
func SummarizePrompt(title, content string) string {
	return "Summarize the following note in a few concise sentences. " +
		"Keep the author's meaning, drop filler.\n\n" + noteBlock(title, content)
}

// ContinuePrompt asks for a natural continuation of the note body. The
// result is meant to be appended to the note.
func ContinuePrompt(title, content string) string {
	return "Continue writing the following note. Match its tone and style, " +
		"and return only the continuation text without repeating the original.\n\n" +
		noteBlock(title, content)
}

// ActionItemsPrompt asks for a bullet list of actionable tasks.
func ActionItemsPrompt(title, content string) string {
	return "Extract the action items from the following note as a plain " +
		"bullet list, one task per line. If there are none, say so.\n\n" +
		noteBlock(title, content)
}

// RelatedPrompt asks which of the other notes relate to the given one.
func RelatedPrompt(target NoteDigest, others []NoteDigest) string {
	var b strings.Builder
	b.WriteString("Given this note:\n\n")
	b.WriteString(noteBlock(target.Title, target.Content))
	b.WriteString("\n\nWhich of the following notes are related to it? ")
	b.WriteString("Answer with the matching titles and a one-line reason each.\n\n")
	writeDigestList(&b, others)
	return b.String()
}

// SmartSearchPrompt asks the model to find notes matching a natural
// language query, used when local substring search comes up empty.
func SmartSearchPrompt(query string, notes []NoteDigest) string {
	var b strings.Builder
	b.WriteString("You are searching a personal note collection. ")
	b.WriteString(fmt.Sprintf("Find the notes that best match this query: %q\n", query))
	b.WriteString("Answer with the matching titles and why they match, or state that nothing matches.\n\n")
	writeDigestList(&b, notes)
	return b.String()
}

func writeDigestList(b *strings.Builder, notes []NoteDigest) {
	b.WriteString("Notes:\n")
	budget := maxContextChars
	for _, n := range notes {
		snippet := n.Content
		if len(snippet) > 160 {
			snippet = snippet[:160]
		}
		line := fmt.Sprintf("- %s: %s\n", n.Title, snippet)
		if budget -= len(line); budget < 0 {
			break
		}
		b.WriteString(line)
	}
}
