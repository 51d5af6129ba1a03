package cue

import "strings"

// Category is the semantic class of an instant cue. The set is closed; use
// [ParseCategory] to validate untrusted input.
type Category string

const (
	Greet    Category = "greet"
	Threaten Category = "threaten"
	Agree    Category = "agree"
	Disagree Category = "disagree"
	Question Category = "question"
	Help     Category = "help"
	Trade    Category = "trade"
	Farewell Category = "farewell"
	Idle     Category = "idle"
	Combat   Category = "combat"
	Surprise Category = "surprise"
	Grateful Category = "grateful"
)

// Categories lists every valid [Category] in declaration order.
var Categories = []Category{
	Greet, Threaten, Agree, Disagree, Question, Help,
	Trade, Farewell, Idle, Combat, Surprise, Grateful,
}

// IsValid reports whether c is one of the recognised categories.
func (c Category) IsValid() bool {
	switch c {
	case Greet, Threaten, Agree, Disagree, Question, Help,
		Trade, Farewell, Idle, Combat, Surprise, Grateful:
		return true
	}
	return false
}

// ParseCategory converts s (case-insensitive, surrounding whitespace ignored)
// into a [Category]. The boolean is false when s names no known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.IsValid()
}

// actionCategories maps action labels produced by the action scorer to the
// cue category played while the response is generated.
var actionCategories = map[string]Category{
	"greet":     Greet,
	"threaten":  Threaten,
	"attack":    Combat,
	"agree":     Agree,
	"disagree":  Disagree,
	"help":      Help,
	"trade":     Trade,
	"offer":     Trade,
	"farewell":  Farewell,
	"flee":      Surprise,
	"apologize": Grateful,
	"accept":    Agree,
	"refuse":    Disagree,
}

// CategoryForAction maps a free-form action label to its cue category. The
// lookup is case-insensitive and total: unknown labels resolve to [Idle].
func CategoryForAction(action string) Category {
	if c, ok := actionCategories[strings.ToLower(strings.TrimSpace(action))]; ok {
		return c
	}
	return Idle
}
