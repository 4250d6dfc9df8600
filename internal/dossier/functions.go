package dossier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tylr-r/helix/internal/domain"
)

// Function names the extraction pass may call.
const (
	FuncUpdateRelationship = "update_user_relationship"
	FuncUpdatePreferences  = "update_user_preferences"
	FuncUpdateContext      = "update_user_context"
	FuncRecordSummary      = "record_conversation_summary"
)

// ErrUnknownFunction is returned for calls that do not map to a section.
var ErrUnknownFunction = errors.New("dossier: unknown function")

var tools = []domain.FunctionTool{
	{
		Name:        FuncUpdateRelationship,
		Description: "Update information about a person mentioned in conversation",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "The name of the person mentioned"},
				"relationship": {"type": "string", "description": "Their relationship to the user (e.g., 'mother', 'colleague', 'friend', 'boss', 'sister', 'partner')"},
				"context": {"type": "string", "description": "Additional context about this person or the relationship"}
			},
			"required": ["name", "relationship"]
		}`),
	},
	{
		Name:        FuncUpdatePreferences,
		Description: "Update the user's preferences, interests, or personality traits",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {
					"type": "string",
					"enum": ["food", "hobbies", "work", "lifestyle", "personality", "communication_style", "interests", "goals"],
					"description": "Category of the preference or trait"
				},
				"insight": {"type": "string", "description": "The specific preference, interest, or trait observed"},
				"confidence": {
					"type": "string",
					"enum": ["low", "medium", "high"],
					"description": "How confident you are about this insight based on the conversation"
				}
			},
			"required": ["category", "insight"]
		}`),
	},
	{
		Name:        FuncUpdateContext,
		Description: "Record your personal reflections and feelings about the conversation like a diary entry. Focus on the mood, emotional tone, and your subjective experience of the interaction rather than literal transcripts.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"context": {"type": "string", "description": "Your diary-like reflection on the conversation: how it felt, the mood, your emotional response, interesting dynamics, or meaningful moments."},
				"timeframe": {
					"type": "string",
					"enum": ["current", "recent", "ongoing", "past"],
					"description": "When this context applies"
				}
			},
			"required": ["context"]
		}`),
	},
	{
		Name:        FuncRecordSummary,
		Description: "Record a one-sentence summary of what this conversation was about",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string", "description": "The key topic or outcome of the conversation"}
			},
			"required": ["summary"]
		}`),
	},
}

// Tools returns the function declarations offered to the extraction pass.
func Tools() []domain.FunctionTool {
	out := make([]domain.FunctionTool, len(tools))
	copy(out, tools)
	return out
}

type relationshipArgs struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Context      string `json:"context"`
}

type preferenceArgs struct {
	Category   string `json:"category"`
	Insight    string `json:"insight"`
	Confidence string `json:"confidence"`
}

type contextArgs struct {
	Context   string `json:"context"`
	Timeframe string `json:"timeframe"`
}

type summaryArgs struct {
	Summary string `json:"summary"`
}

// Entry converts a function call into the bullet it adds and the section it
// belongs to.
func Entry(name, arguments string) (Section, string, error) {
	switch name {
	case FuncUpdateRelationship:
		var a relationshipArgs
		if err := decodeArgs(arguments, &a); err != nil {
			return "", "", err
		}
		if a.Name = strings.TrimSpace(a.Name); a.Name == "" {
			return "", "", errors.New("dossier: relationship name is required")
		}
		entry := fmt.Sprintf("- **%s** (%s)", a.Name, strings.TrimSpace(a.Relationship))
		if c := strings.TrimSpace(a.Context); c != "" {
			entry += ": " + c
		}
		return SectionRelationships, entry, nil

	case FuncUpdatePreferences:
		var a preferenceArgs
		if err := decodeArgs(arguments, &a); err != nil {
			return "", "", err
		}
		if a.Insight = strings.TrimSpace(a.Insight); a.Insight == "" {
			return "", "", errors.New("dossier: preference insight is required")
		}
		entry := a.Insight
		if a.Confidence != "" {
			entry += " (confidence: " + a.Confidence + ")"
		}
		if a.Category != "" {
			entry = "[" + a.Category + "] " + entry
		}
		section := SectionPreferences
		switch a.Category {
		case "interests", "hobbies":
			section = SectionInterests
		case "goals":
			section = SectionGoals
		}
		return section, "- " + entry, nil

	case FuncUpdateContext:
		var a contextArgs
		if err := decodeArgs(arguments, &a); err != nil {
			return "", "", err
		}
		if a.Context = strings.TrimSpace(a.Context); a.Context == "" {
			return "", "", errors.New("dossier: context is required")
		}
		timeframe := a.Timeframe
		if timeframe == "" {
			timeframe = "recent"
		}
		return SectionContext, "- " + timeframe + ": " + a.Context, nil

	case FuncRecordSummary:
		var a summaryArgs
		if err := decodeArgs(arguments, &a); err != nil {
			return "", "", err
		}
		if a.Summary = strings.TrimSpace(a.Summary); a.Summary == "" {
			return "", "", errors.New("dossier: summary is required")
		}
		return SectionSummaries, "- " + a.Summary, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

func decodeArgs(arguments string, v any) error {
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return fmt.Errorf("dossier: decode arguments: %w", err)
	}
	return nil
}
