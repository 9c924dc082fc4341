// Package intent classifies spoken commands and executes them.
//
// A [Recognizer] maps command text to an [Intent] whose [Kind] is one of a
// fixed set of categories. A [Dispatcher] resolves each Kind to its handler
// through an exhaustive switch and returns the sentence to speak back.
//
// Two recognisers are provided: [KeywordRecognizer], which scores the command
// against keyword lists with Jaro-Winkler similarity, and [LLMRecognizer],
// which asks a language model to pick a category and can fall back to another
// recogniser when the model is unavailable.
package intent

import (
	"context"
	"strings"
)

// Kind is the finite set of command categories.
type Kind int

const (
	// KindUnknown is any command that matched no other category.
	KindUnknown Kind = iota
	// KindGreeting is a salutation ("hello", "good morning").
	KindGreeting
	// KindTime asks for the current time.
	KindTime
	// KindDate asks for today's date.
	KindDate
	// KindHelp asks what the assistant can do.
	KindHelp
	// KindSleep asks the assistant to stop listening for commands.
	KindSleep

	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:  "unknown",
	KindGreeting: "greeting",
	KindTime:     "time",
	KindDate:     "date",
	KindHelp:     "help",
	KindSleep:    "sleep",
}

// String returns the lower-case category name.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every category except [KindUnknown], in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds-1)
	for k := KindUnknown + 1; k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a category name back to its Kind. Case and surrounding
// whitespace or punctuation are ignored; unrecognised names yield
// [KindUnknown].
func ParseKind(name string) Kind {
	k, _ := lookupKind(name)
	return k
}

// lookupKind is ParseKind that also reports whether name was a category name
// at all, "unknown" included.
func lookupKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.Trim(name, " \t\r\n.,!?\"'`"))
	for k := KindUnknown; k < numKinds; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// Intent is a classified command.
type Intent struct {
	// Kind is the recognised category.
	Kind Kind

	// Confidence is the recogniser's score in [0, 1].
	Confidence float64

	// Text is the raw command text.
	Text string
}

// Recognizer classifies command text. Implementations must be safe for
// concurrent use.
type Recognizer interface {
	Recognize(ctx context.Context, text string) (Intent, error)
}

// Executor carries out a recognised intent and returns the sentence to speak
// back to the user.
type Executor interface {
	Execute(ctx context.Context, in Intent) (string, error)
}
