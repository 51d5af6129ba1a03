package pipeline

import "strings"

// MaxHistoryLines is the hard cap on history lines kept in a prompt. Older
// lines are dropped unconditionally.
const MaxHistoryLines = 6

// PromptInput is everything [BuildPrompt] combines.
type PromptInput struct {
	Name         string
	Mood         string
	Relationship string
	Action       string
	Facts        []string
	History      string
	Utterance    string
}

// BuildPrompt assembles the generation prompt:
//
//	System: You are {name}. Mood: {mood}. Relationship: {relationship}.
//	You MUST perform the action: {ACTION}.
//	Keep your response under 2 sentences. Be natural and in-character.
//	Relevant Facts:
//	- {fact}
//
//	{last history lines}
//	Player: {utterance}
//	{name}:
//
// The facts block is omitted when there are no facts. It is deterministic.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("System: You are ")
	b.WriteString(in.Name)
	b.WriteString(". Mood: ")
	b.WriteString(in.Mood)
	b.WriteString(". Relationship: ")
	b.WriteString(in.Relationship)
	b.WriteString(".\nYou MUST perform the action: ")
	b.WriteString(strings.ToUpper(in.Action))
	b.WriteString(".\nKeep your response under 2 sentences. Be natural and in-character.\n")
	b.WriteString(factsBlock(in.Facts))
	b.WriteString("\n")
	b.WriteString(PruneHistory(in.History, MaxHistoryLines))
	b.WriteString("\nPlayer: ")
	b.WriteString(in.Utterance)
	b.WriteString("\n")
	b.WriteString(in.Name)
	b.WriteString(":")
	return b.String()
}

// PruneHistory trims surrounding whitespace from history and keeps only its
// last n lines.
func PruneHistory(history string, n int) string {
	history = strings.TrimSpace(history)
	if history == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(history, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func factsBlock(facts []string) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant Facts:\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return b.String()
}
