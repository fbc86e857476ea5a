package domain

import (
	"fmt"
	"strings"
)

// Reserved tags used for positional assets. User-named tags never collide
// with these because the resolver filters them out of mentions.
const (
	TagWorkingImage    = "@working_image"
	TagWorkingVideo    = "@working_video"
	referenceTagPrefix = "@reference_"
)

// ReferenceAsset is a resolved reference image. Tag is the user-chosen name
// without the leading "@", or empty for positional (uploaded) assets.
type ReferenceAsset struct {
	URI string `json:"uri"`
	Tag string `json:"tag,omitempty"`
}

// WorkingAsset is the active image or video being edited or animated.
type WorkingAsset struct {
	URI   string
	Video bool
}

// TaggedAsset is an asset paired with the tag it is addressed by in prompts
// and provider payloads.
type TaggedAsset struct {
	URI string `json:"uri"`
	Tag string `json:"tag"`
}

// ReferenceTag returns the positional tag for the n-th (1-based) unnamed reference.
func ReferenceTag(n int) string {
	return fmt.Sprintf("%s%d", referenceTagPrefix, n)
}

// IsReservedTag reports whether tag (with or without "@") is one of the
// system tags: @working_image, @working_video or @reference_N.
func IsReservedTag(tag string) bool {
	t := "@" + strings.TrimPrefix(strings.ToLower(tag), "@")
	if t == TagWorkingImage || t == TagWorkingVideo {
		return true
	}
	if !strings.HasPrefix(t, referenceTagPrefix) {
		return false
	}
	digits := strings.TrimPrefix(t, referenceTagPrefix)
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// AssignTags maps an ordered asset list to the tags providers and prompts
// use. The working asset, when present, always comes first as
// @working_image or @working_video. Named references keep "@"+name; unnamed
// references are numbered @reference_1, @reference_2, ... in order.
func AssignTags(working *WorkingAsset, refs []ReferenceAsset) []TaggedAsset {
	out := make([]TaggedAsset, 0, len(refs)+1)
	if working != nil && working.URI != "" {
		tag := TagWorkingImage
		if working.Video {
			tag = TagWorkingVideo
		}
		out = append(out, TaggedAsset{URI: working.URI, Tag: tag})
	}
	positional := 0
	for _, ref := range refs {
		if ref.Tag != "" {
			out = append(out, TaggedAsset{URI: ref.URI, Tag: "@" + strings.TrimPrefix(ref.Tag, "@")})
			continue
		}
		positional++
		out = append(out, TaggedAsset{URI: ref.URI, Tag: ReferenceTag(positional)})
	}
	return out
}
