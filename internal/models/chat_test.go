package models

import (
	"strings"
	"testing"
	"time"
)

func TestVocabularyWire(t *testing.T) {
	tests := []struct {
		name  string
		vocab Vocabulary
		role  Role
		want  string
	}{
		{"Authenticated human", AuthenticatedVocabulary, RoleHuman, "USER"},
		{"Authenticated agent", AuthenticatedVocabulary, RoleAgent, "AI"},
		{"Guest human", GuestVocabulary, RoleHuman, "user"},
		{"Guest agent", GuestVocabulary, RoleAgent, "model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.vocab.Wire(tt.role); got != tt.want {
				t.Errorf("Wire(%q) = %q, want %q", tt.role, got, tt.want)
			}
		})
	}
}

func TestVocabularyInternal(t *testing.T) {
	tests := []struct {
		name     string
		vocab    Vocabulary
		wire     string
		wantRole Role
		wantOK   bool
	}{
		{"Authenticated USER", AuthenticatedVocabulary, "USER", RoleHuman, true},
		{"Authenticated AI", AuthenticatedVocabulary, "AI", RoleAgent, true},
		{"Guest user", GuestVocabulary, "user", RoleHuman, true},
		{"Guest model", GuestVocabulary, "model", RoleAgent, true},
		{"Unknown literal", AuthenticatedVocabulary, "SYSTEM", "", false},
		// Literal sets don't cross deployments.
		{"Guest literal on authenticated", AuthenticatedVocabulary, "model", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, ok := tt.vocab.Internal(tt.wire)
			if ok != tt.wantOK {
				t.Fatalf("Internal(%q) ok = %v, want %v", tt.wire, ok, tt.wantOK)
			}
			if role != tt.wantRole {
				t.Errorf("Internal(%q) = %q, want %q", tt.wire, role, tt.wantRole)
			}
		})
	}
}

func TestLocalMessageID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got, want := LocalMessageID(at), "local-1704067200000000000"; got != want {
		t.Errorf("LocalMessageID() = %q, want %q", got, want)
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("**bold** and `code`")
	if err != nil {
		t.Fatalf("RenderMarkdown() error = %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("RenderMarkdown() = %q, want bold markup", html)
	}
	if !strings.Contains(html, "<code>code</code>") {
		t.Errorf("RenderMarkdown() = %q, want code markup", html)
	}
}
