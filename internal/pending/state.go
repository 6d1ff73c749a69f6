// Package pending stores the one in-flight conversation state per identity.
//
// A State is a tagged union on Kind. Each kind requires a specific set of
// fields; Validate rejects combinations that cannot occur, such as a
// reference prompt without a picker.
package pending

import (
	"fmt"
	"time"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// Kind discriminates the pending state.
type Kind string

const (
	KindAwaitingConfirmation  Kind = "awaiting_confirmation"
	KindAwaitingReference     Kind = "awaiting_reference"
	KindAwaitingClarification Kind = "awaiting_clarification"
)

// Draft is the candidate command: CIL envelope fields keyed by JSON name.
type Draft map[string]any

// String returns a string field, or "".
func (d Draft) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Option is one numbered picker line.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Picker is the numbered list shown while awaiting a reference.
type Picker struct {
	Entity  types.EntityKind `json:"entity"`
	Field   string           `json:"field"` // draft key the choice fills, e.g. "job"
	Page    int              `json:"page"`
	Options []Option         `json:"options,omitempty"`
}

// State is the stored document. Fields other than Kind are optional in a
// patch; an omitted field never erases the stored value.
type State struct {
	Kind    Kind          `json:"kind,omitempty"`
	Draft   Draft         `json:"draft,omitempty"`
	Seed    string        `json:"seed,omitempty"` // id of the message that started the command
	Picker  *Picker       `json:"picker,omitempty"`
	Media   []types.Media `json:"media,omitempty"`
	Problem string        `json:"problem,omitempty"`
	Example string        `json:"example,omitempty"`
	Updated time.Time     `json:"updated_at,omitempty"`
}

// Validate checks the per-kind invariants.
func (s *State) Validate() error {
	switch s.Kind {
	case KindAwaitingConfirmation:
		if len(s.Draft) == 0 || s.Seed == "" {
			return fmt.Errorf("%s requires draft and seed", s.Kind)
		}
	case KindAwaitingReference:
		if len(s.Draft) == 0 || s.Seed == "" {
			return fmt.Errorf("%s requires draft and seed", s.Kind)
		}
		if s.Picker == nil || s.Picker.Field == "" {
			return fmt.Errorf("%s requires a picker", s.Kind)
		}
	case KindAwaitingClarification:
		if s.Seed == "" || s.Problem == "" {
			return fmt.Errorf("%s requires seed and problem", s.Kind)
		}
	case "":
		return fmt.Errorf("pending state has no kind")
	default:
		return fmt.Errorf("unknown pending state kind %q", s.Kind)
	}
	return nil
}
