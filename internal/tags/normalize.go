package tags

import (
	"regexp"
	"strings"
)

var (
	punctPattern        = regexp.MustCompile(`[^a-z0-9]+`)
	trailingNumPattern  = regexp.MustCompile(`[0-9]+$`)
	pureNumberPattern   = regexp.MustCompile(`^[0-9]+$`)
	hexIDPattern        = regexp.MustCompile(`^[0-9a-f]{8,}$`)
	ontologyIDPattern   = regexp.MustCompile(`^(m|t)?0[a-z0-9]{4,}$`)
	genericNamePattern  = regexp.MustCompile(`^(slice|sample|audio|untitled|track|recording)[ _-]?[0-9]+$`)
	tokenSplitPattern   = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	drumMachineNumbers  = map[string]bool{"808": true, "909": true, "707": true, "606": true, "303": true}
)

// normalizeTag lowercases, strips punctuation, and strips trailing digits.
// Drum-machine model numbers keep their digits: "808" is an instrument,
// "kick_03" is a kick.
func normalizeTag(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = punctPattern.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}
	if drumMachineNumbers[s] || strings.HasSuffix(s, "808") || strings.HasSuffix(s, "909") {
		return s
	}
	stripped := trailingNumPattern.ReplaceAllString(s, "")
	if stripped == "" {
		// Pure number; keep as-is so the junk filter sees it.
		return s
	}
	return stripped
}

// isJunk recognizes tokens that carry no tag information: pure numbers,
// opaque hex identifiers, and audio-ontology ID fragments.
func isJunk(s string) bool {
	if drumMachineNumbers[s] {
		return false
	}
	return pureNumberPattern.MatchString(s) ||
		hexIDPattern.MatchString(s) ||
		ontologyIDPattern.MatchString(s)
}

// isGenericName reports whether a sample name is a bare placeholder like
// "Slice 3" or "Sample_12".
func isGenericName(name string) bool {
	return genericNamePattern.MatchString(strings.ToLower(strings.TrimSpace(name)))
}

// textTokens splits free text (sample names, folder paths) into lowercase
// tokens for congruence matching.
func textTokens(text string) []string {
	parts := tokenSplitPattern.Split(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// congruentTags finds vocabulary tags directly present in the given texts,
// in order of first appearance.
func congruentTags(texts ...string) []string {
	var found []string
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, tok := range textTokens(text) {
			name, ok := canonical(tok)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			found = append(found, name)
		}
	}
	return found
}

// isCongruent reports whether tag's canonical form appears by direct text
// matching in the sample name or folder path.
func isCongruent(tag string, sampleName, folderPath string) bool {
	for _, found := range congruentTags(sampleName, folderPath) {
		if found == tag {
			return true
		}
	}
	return false
}
