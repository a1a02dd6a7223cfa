package engine

import (
	"regexp"
	"strings"

	"github.com/mnemo-ai/mnemo/pkg/types"
)

// Candidate is a piece of a turn the policy judged worth persisting.
type Candidate struct {
	Content string
	Type    types.MemoryType
}

// LearnPolicy decides what, if anything, a conversational turn
// contributes to memory. Implementations must be deterministic: the same
// turn always yields the same candidates.
type LearnPolicy interface {
	Extract(turn Turn) []Candidate
}

// rememberPattern captures the payload of an explicit remember command
// ("remember that I ...", "please remember: ...").
var rememberPattern = regexp.MustCompile(`(?i)^\s*(?:please\s+)?remember(?:\s+that)?[:,]?\s+(.+)$`)

// factPatterns are first-person statements worth keeping from ordinary
// turns. Real fact extraction is a collaborator's job; this list only
// needs to catch the obvious self-disclosures.
var factPatterns = regexp.MustCompile(`(?i)\b(my name is|i live in|i work at|i love|i like|i prefer|i hate|call me|my favorite|my birthday)\b`)

type defaultPolicy struct{}

// DefaultPolicy returns the built-in learning policy:
//   - an explicit remember command always yields one explicit entry
//   - a declarative first-person statement yields one inferred entry
//   - anything else yields nothing
func DefaultPolicy() LearnPolicy {
	return defaultPolicy{}
}

func (defaultPolicy) Extract(turn Turn) []Candidate {
	msg := strings.TrimSpace(turn.UserMessage)
	if msg == "" {
		return nil
	}

	if m := rememberPattern.FindStringSubmatch(msg); m != nil {
		payload := strings.TrimSpace(m[1])
		if payload == "" {
			return nil
		}
		return []Candidate{{Content: payload, Type: types.MemoryTypeExplicit}}
	}

	// Questions are requests for information, not disclosures.
	if strings.HasSuffix(msg, "?") {
		return nil
	}
	if factPatterns.MatchString(msg) {
		return []Candidate{{Content: msg, Type: types.MemoryTypeInferred}}
	}
	return nil
}
