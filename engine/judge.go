package engine

import (
	"strings"
	"unicode"
)

// judgeSystemPrompt frames the loop-judgment call. The grammar is strict:
// the reply must begin with YES or NO; anything else is a policy violation
// and the loop stops.
const judgeSystemPrompt = "You are a strict condition evaluator for an interactive story. " +
	"Given the conversation so far, decide whether the stated condition has been met. " +
	"Your reply MUST begin with the single word YES or NO, optionally followed by a short explanation."

// parseJudgment interprets a loop-judgment reply. It returns met (the
// condition holds, so the loop stops) and ok (the reply matched the
// YES/NO grammar). Callers treat !ok as a policy violation defaulting to
// non-continuation.
func parseJudgment(reply string) (met, ok bool) {
	trimmed := strings.TrimLeftFunc(reply, unicode.IsSpace)

	if matchToken(trimmed, "YES") {
		return true, true
	}
	if matchToken(trimmed, "NO") {
		return false, true
	}
	return false, false
}

// matchToken reports whether s begins with the token (case-insensitive)
// followed by a non-letter or end of string.
func matchToken(s, token string) bool {
	if len(s) < len(token) {
		return false
	}
	if !strings.EqualFold(s[:len(token)], token) {
		return false
	}
	if len(s) == len(token) {
		return true
	}
	next := rune(s[len(token)])
	return !unicode.IsLetter(next)
}
