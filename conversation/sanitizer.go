package conversation

import (
	"log"

	"github.com/Desarso/finchat/models"
)

// SanitizeTranscript ensures the transcript has a valid turn structure for chat completion APIs.
//
// Valid transcript:
//   - system -> user -> assistant -> user -> ... -> user
//
// The function ensures:
//   - Exactly one system turn, at index 0 (later system turns are dropped)
//   - The first non-system turn is a user turn
//   - Roles alternate; of two consecutive turns with the same role only the later one is kept
func SanitizeTranscript(turns []models.Turn) []models.Turn {
	if len(turns) == 0 {
		return turns
	}

	result := make([]models.Turn, 0, len(turns))
	if turns[0].Role == models.RoleSystem {
		result = append(result, turns[0])
		turns = turns[1:]
	}

	// Step 1: Find a valid starting point
	startIdx := findValidStartIndex(turns)
	if startIdx == -1 {
		log.Printf("[TRANSCRIPT_SANITIZER] No user turn found, sending system prompt only")
		return result
	}
	if startIdx > 0 {
		log.Printf("[TRANSCRIPT_SANITIZER] Skipping first %d turns to find valid start (was role: %s)", startIdx, turns[0].Role)
		turns = turns[startIdx:]
	}

	// Step 2: Enforce alternation
	before := len(result)
	for i, turn := range turns {
		switch turn.Role {
		case models.RoleSystem:
			log.Printf("[TRANSCRIPT_SANITIZER] Removing stray system turn at index %d", i)
			continue
		case models.RoleUser, models.RoleAssistant:
		default:
			log.Printf("[TRANSCRIPT_SANITIZER] Removing turn with unknown role '%s' at index %d", turn.Role, i)
			continue
		}

		if last := len(result) - 1; last >= before && result[last].Role == turn.Role {
			// A user turn without an answer (or a doubled reply) is superseded by the later turn
			result[last] = turn
			continue
		}
		result = append(result, turn)
	}

	if dropped := len(turns) - (len(result) - before); dropped > 0 {
		log.Printf("[TRANSCRIPT_SANITIZER] Removed %d turns with broken alternation", dropped)
	}
	return result
}

// findValidStartIndex finds the first user turn. Assistant turns before it have no question to answer.
func findValidStartIndex(turns []models.Turn) int {
	for i, turn := range turns {
		if turn.Role == models.RoleUser {
			return i
		}
	}
	return -1
}
