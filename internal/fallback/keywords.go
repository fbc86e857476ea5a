package fallback

import "strings"

// keywordSet matches whole words and multi-word phrases against a normalized
// prompt.
type keywordSet struct {
	name    string
	phrases []string
}

func newKeywordSet(name string, phrases ...string) keywordSet {
	padded := make([]string, len(phrases))
	for i, p := range phrases {
		padded[i] = " " + p + " "
	}
	return keywordSet{name: name, phrases: padded}
}

// match returns the first keyword found in the prompt, without padding.
func (k keywordSet) match(p normalizedPrompt) (string, bool) {
	for _, phrase := range k.phrases {
		if strings.Contains(string(p), phrase) {
			return strings.TrimSpace(phrase), true
		}
	}
	return "", false
}

// normalizedPrompt is lowercase, punctuation-free and padded with a single
// space on each side so word matches can use " word ".
type normalizedPrompt string

func normalize(prompt string) normalizedPrompt {
	var b strings.Builder
	b.Grow(len(prompt) + 2)
	b.WriteByte(' ')
	lastSpace := true
	for _, r := range strings.ToLower(prompt) {
		isWord := r == '\'' || r == '@' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
		if !isWord {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	if !lastSpace {
		b.WriteByte(' ')
	}
	return normalizedPrompt(b.String())
}

var (
	editIntent = newKeywordSet("edit",
		"change", "changes", "changing",
		"modify", "modifying",
		"edit", "editing",
		"adjust", "adjusting",
		"update", "updating",
		"make it", "make the", "turn the", "turn it", "turn them",
		"replace", "remove", "swap", "alter",
		"recolor", "recolour", "restyle", "convert", "transform",
		"brighten", "darken", "colorize", "colourise",
		"into night", "into day", "make the weather", "make it rain", "make it snow",
	)

	videoIntent = newKeywordSet("video",
		"video", "videos",
		"animate", "animated", "animating", "animation",
		"motion", "moving", "in motion",
		"clip", "clips",
		"footage", "film", "movie", "cinematic shot",
		"make it move", "bring it to life", "bring to life",
	)

	audioIntent = newKeywordSet("audio",
		"sing", "sings", "singing", "song", "songs", "lyrics",
		"voice", "voiceover", "voice over", "narrate", "narrates", "narration", "narrator",
		"dialogue", "dialog", "conversation", "talking", "talks", "speaking", "speaks", "says", "saying",
		"interview", "podcast", "announces", "whispers", "shouts",
		"audio", "sound", "sounds", "music",
	)

	additionIntent = newKeywordSet("addition",
		"add", "adding", "place", "placing", "put", "putting", "include", "including", "insert", "inserting",
	)
)
