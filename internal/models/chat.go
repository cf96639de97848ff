package models

import (
	"fmt"
	"time"
)

// Conversation represents a message thread between one user and one character.
// It provides basic identification and labeling capabilities for organizing
// message threads in the sidebar.
type Conversation struct {
	ID          string
	CharacterID string
	Title       string
}

// Message represents an individual communication entry within a conversation.
// IDs are locally generated (timestamp-based) for entries created by this
// process; a server-assigned ID may supersede the local one on refetch.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Role represents the semantic role of a message participant. The wire-level
// literal differs per deployment (see Vocabulary); internally only these two
// variants exist.
type Role string

const (
	// RoleHuman represents a message authored by the person at the keyboard.
	RoleHuman Role = "human"
	// RoleAgent represents a message authored by the character.
	RoleAgent Role = "agent"
)

// Vocabulary maps the internal role enumeration to the literals a deployment's
// backend expects on the wire. The two deployments use different literal sets
// for the same semantic distinction, so neither set is hardcoded anywhere else.
type Vocabulary struct {
	Human string
	Agent string
}

// AuthenticatedVocabulary is the literal set used by the session-backed deployment.
var AuthenticatedVocabulary = Vocabulary{Human: "USER", Agent: "AI"}

// GuestVocabulary is the literal set used by the stateless guest deployment.
var GuestVocabulary = Vocabulary{Human: "user", Agent: "model"}

// Wire returns the deployment literal for role.
func (v Vocabulary) Wire(role Role) string {
	if role == RoleAgent {
		return v.Agent
	}
	return v.Human
}

// Internal maps a deployment literal back to the internal enumeration. The
// second return value is false for literals outside the vocabulary.
func (v Vocabulary) Internal(wire string) (Role, bool) {
	switch wire {
	case v.Human:
		return RoleHuman, true
	case v.Agent:
		return RoleAgent, true
	}
	return "", false
}

// LocalMessageID generates a timestamp-based identifier for messages created
// locally, such as the optimistic echo of an outbound message.
func LocalMessageID(t time.Time) string {
	return fmt.Sprintf("local-%d", t.UnixNano())
}
