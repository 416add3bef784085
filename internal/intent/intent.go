// Package intent turns recognised text into a calendar command.
//
// The controller only depends on the [Dispatcher] interface and the [Intent]
// shape. [RuleDispatcher] is the built-in implementation: an ordered list of
// regular-expression templates where the first match wins and no match
// yields [CommandUnknown].
package intent

import "strings"

// CommandUnknown is the command of an Intent that matched no template.
const CommandUnknown = "unknown"

// Param is one named argument extracted from an utterance.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Intent is a parsed command.
type Intent struct {
	// Command names the calendar operation, e.g. "create_event".
	Command string `json:"command"`

	// Params holds the extracted arguments in template order.
	Params []Param `json:"params,omitempty"`

	// Confidence is the dispatcher's confidence in the match, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Template is the name of the template that matched. Empty for
	// CommandUnknown.
	Template string `json:"template,omitempty"`
}

// Param returns the value of the named parameter.
func (i Intent) Param(name string) (string, bool) {
	for _, p := range i.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// IsUnknown reports whether no template matched.
func (i Intent) IsUnknown() bool { return i.Command == CommandUnknown }

// Dispatcher parses text into an Intent and recognises stop requests.
//
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	// Parse returns the Intent for text. It never fails; unmatched text
	// yields an Intent with Command == CommandUnknown.
	Parse(text string) Intent

	// IsStop reports whether text asks to abandon the interaction.
	IsStop(text string) bool
}

// normalize lowercases text, collapses whitespace and strips surrounding
// punctuation so templates do not need to account for recogniser styling.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "’", "'")
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	return strings.Trim(text, " .,!?;:\"'")
}
