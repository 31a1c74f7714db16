package catalog

import (
	"sort"
	"strings"
)

// Tokenize derives the search tokens for a worksheet entry from its
// free-text metadata. Title, subject, topic and subtopic contribute
// their whole lowercased value; the description is lowercased and split
// on whitespace keeping only words longer than two characters; tags are
// lowercased verbatim. The result is deduplicated and sorted so equal
// inputs always produce the identical slice.
func Tokenize(title, subject, topic, subtopic, description string, tags []string) []string {
	seen := make(map[string]struct{})
	add := func(token string) {
		seen[token] = struct{}{}
	}

	for _, field := range []string{title, subject, topic, subtopic} {
		if field != "" {
			add(strings.ToLower(field))
		}
	}
	for _, word := range strings.Fields(strings.ToLower(description)) {
		if len(word) > 2 {
			add(word)
		}
	}
	for _, tag := range tags {
		add(strings.ToLower(tag))
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// HasToken reports whether a derived index contains the given token.
// Lookup is case-insensitive to match query normalization.
func HasToken(index []string, token string) bool {
	token = strings.ToLower(token)
	for _, t := range index {
		if t == token {
			return true
		}
	}
	return false
}
