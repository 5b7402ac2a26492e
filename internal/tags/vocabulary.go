// Package tags deterministically resolves instrument tags for audio samples
// from model predictions, filename evidence, folder hints, and previous
// assignments, with an AI reviewer as the last resort.
package tags

// CategoryInstrument is the only category that survives review.
const CategoryInstrument = "instrument"

// ReviewedTag is the resolver's final output.
type ReviewedTag struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// priorityOrder is the hand-ordered instrument list used for single-instrument
// tie-breaks. Earlier entries win.
var priorityOrder = []string{
	"kick", "snare", "hihat", "clap", "tom", "cymbal", "rim",
	"shaker", "conga", "bongo", "cowbell", "tambourine", "timbale", "snap",
	"percussion", "808",
	"bass", "sub",
	"synth", "lead", "pad", "pluck", "keys", "piano", "organ",
	"guitar", "strings", "brass", "flute",
	"vocal", "chant",
	"foley", "fx", "riser", "impact",
	"ambience", "drone", "noise", "texture",
	"loop", "break", "fill",
}

// tagRank maps canonical tag -> priority rank. Lower rank wins.
var tagRank = func() map[string]int {
	m := make(map[string]int, len(priorityOrder))
	for i, name := range priorityOrder {
		m[name] = i
	}
	return m
}()

// aliases maps common spellings to canonical vocabulary entries.
var aliases = map[string]string{
	"bd":         "kick",
	"bassdrum":   "kick",
	"kickdrum":   "kick",
	"sd":         "snare",
	"snr":        "snare",
	"hat":        "hihat",
	"hats":       "hihat",
	"hh":         "hihat",
	"openhat":    "hihat",
	"closedhat":  "hihat",
	"claps":      "clap",
	"toms":       "tom",
	"crash":      "cymbal",
	"ride":       "cymbal",
	"cymbals":    "cymbal",
	"rimshot":    "rim",
	"perc":       "percussion",
	"percs":      "percussion",
	"drum":       "percussion",
	"drums":      "percussion",
	"808s":       "808",
	"subbass":    "sub",
	"bassline":   "bass",
	"basses":     "bass",
	"synths":     "synth",
	"leads":      "lead",
	"pads":       "pad",
	"plucks":     "pluck",
	"keyboard":   "keys",
	"keyboards":  "keys",
	"pno":        "piano",
	"gtr":        "guitar",
	"guitars":    "guitar",
	"string":     "strings",
	"violin":     "strings",
	"cello":      "strings",
	"horn":       "brass",
	"horns":      "brass",
	"trumpet":    "brass",
	"vox":        "vocal",
	"vocals":     "vocal",
	"voice":      "vocal",
	"acapella":   "vocal",
	"sfx":        "fx",
	"effect":     "fx",
	"effects":    "fx",
	"sweep":      "riser",
	"uplifter":   "riser",
	"hits":       "impact",
	"atmo":       "ambience",
	"atmosphere": "ambience",
	"ambient":    "ambience",
	"drones":     "drone",
	"textures":   "texture",
	"loops":      "loop",
	"breaks":     "break",
	"breakbeat":  "break",
	"fills":      "fill",
}

// invalidTokens are known-junk words that never resolve to a tag.
var invalidTokens = map[string]bool{
	"audio":     true,
	"sample":    true,
	"samples":   true,
	"sound":     true,
	"sounds":    true,
	"unknown":   true,
	"untitled":  true,
	"track":     true,
	"stem":      true,
	"wav":       true,
	"mp3":       true,
	"aiff":      true,
	"flac":      true,
	"final":     true,
	"master":    true,
	"mix":       true,
	"demo":      true,
	"test":      true,
	"bounce":    true,
	"export":    true,
	"render":    true,
	"processed": true,
	"edit":      true,
	"version":   true,
	"copy":      true,
	"new":       true,
	"old":       true,
}

// canonical resolves a raw tag to a vocabulary entry: normalize, drop junk,
// follow aliases, require vocabulary membership.
func canonical(raw string) (string, bool) {
	name := normalizeTag(raw)
	if name == "" || invalidTokens[name] || isJunk(name) {
		return "", false
	}
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if _, ok := tagRank[name]; !ok {
		return "", false
	}
	return name, true
}

// rankOf returns the priority rank of a canonical tag; unranked tags sort
// last.
func rankOf(name string) int {
	if r, ok := tagRank[name]; ok {
		return r
	}
	return len(priorityOrder)
}
