package chat

import "strings"

// SanitizeGreeting turns an agent's configured greeting into display prose.
// Greetings are sometimes stored as a pseudo-array such as
// {"Hola","¿Cómo puedo ayudarte?"}; the fragments are rejoined with ", ".
func SanitizeGreeting(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, `{}[]"`) {
		return strings.Join(strings.Fields(raw), " ")
	}

	fragments := splitGreetingFragments(raw)
	cleaned := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		fragment = stripGreetingArtifacts(fragment)
		if fragment != "" {
			cleaned = append(cleaned, fragment)
		}
	}
	return strings.Join(cleaned, ", ")
}

// splitGreetingFragments splits on commas that sit outside double quotes.
// Array output only quotes elements that need it, so quoted and bare
// elements can be mixed.
func splitGreetingFragments(raw string) []string {
	var (
		fragments []string
		current   strings.Builder
		quoted    bool
		escaped   bool
	)
	for _, r := range raw {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fragments = append(fragments, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	return append(fragments, current.String())
}

func stripGreetingArtifacts(fragment string) string {
	fragment = strings.ReplaceAll(fragment, `\"`, "")
	fragment = strings.Map(func(r rune) rune {
		switch r {
		case '{', '}', '[', ']', '"':
			return -1
		}
		return r
	}, fragment)
	return strings.Join(strings.Fields(fragment), " ")
}
