// Package question dispatches question rendering and grading logic to
// question-type and question-behaviour handlers.
package question

// Question is a question of an attempt as the site returns it.
type Question struct {
	Slot          int    `json:"slot"`
	Type          string `json:"type"`
	Number        int    `json:"number,omitempty"`
	HTML          string `json:"html,omitempty"`
	State         string `json:"state,omitempty"`
	SequenceCheck string `json:"sequencecheck,omitempty"`
	// Behaviour the quiz uses for this question, e.g. "deferredfeedback".
	Behaviour string `json:"behaviour,omitempty"`
}

// Answers maps form field names to the values the user entered.
type Answers map[string]string

// Response completeness values returned by IsCompleteResponse and
// IsGradableResponse.
const (
	ResponseUnknown    = -1
	ResponseIncomplete = 0
	ResponseComplete   = 1
)

// State is the state of a question in an attempt.
type State struct {
	Name     string `json:"name"`
	Class    string `json:"class"`
	Status   string `json:"status"`
	Active   bool   `json:"active"`
	Finished bool   `json:"finished"`
}

var states = map[string]State{
	"todo":                  {"todo", "core-question-notyetanswered", "notyetanswered", true, false},
	"invalid":               {"invalid", "core-question-invalidanswer", "invalidanswer", true, false},
	"complete":              {"complete", "core-question-answersaved", "answersaved", true, false},
	"needsgrading":          {"needsgrading", "core-question-requiresgrading", "requiresgrading", false, true},
	"finished":              {"finished", "core-question-complete", "complete", false, true},
	"gaveup":                {"gaveup", "core-question-notanswered", "notanswered", false, true},
	"gradedwrong":           {"gradedwrong", "core-question-incorrect", "incorrect", false, true},
	"gradedpartial":         {"gradedpartial", "core-question-partiallycorrect", "partiallycorrect", false, true},
	"gradedright":           {"gradedright", "core-question-correct", "correct", false, true},
	"mangrwrong":            {"mangrwrong", "core-question-incorrect", "incorrect", false, true},
	"mangrpartial":          {"mangrpartial", "core-question-partiallycorrect", "partiallycorrect", false, true},
	"mangrright":            {"mangrright", "core-question-correct", "correct", false, true},
	"cannotdeterminestatus": {"cannotdeterminestatus", "core-question-unknown", "cannotdeterminestatus", true, false},
}

// GetState returns the named state, or "cannotdeterminestatus" for names
// it doesn't know.
func GetState(name string) State {
	if s, ok := states[name]; ok {
		return s
	}
	return states["cannotdeterminestatus"]
}
