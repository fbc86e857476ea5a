package domain

import "fmt"

// SignalVector carries the caller-supplied booleans describing the session
// state. The engine never infers these from prompt text.
type SignalVector struct {
	ActiveImage     bool `json:"active_image"`
	ActiveVideo     bool `json:"active_video"`
	UploadedImage   bool `json:"uploaded_image"`
	ReferencedImage bool `json:"referenced_image"`
}

// HasReferences reports whether an uploaded or named reference is in play.
func (s SignalVector) HasReferences() bool {
	return s.UploadedImage || s.ReferencedImage
}

// HasWorkingAsset reports whether an active image or video exists.
func (s SignalVector) HasWorkingAsset() bool {
	return s.ActiveImage || s.ActiveVideo
}

// IsEmpty reports whether no signal is set.
func (s SignalVector) IsEmpty() bool {
	return !s.ActiveImage && !s.ActiveVideo && !s.UploadedImage && !s.ReferencedImage
}

// Bits renders the vector as a fixed four character string, e.g. "1001".
// It is stable and used as part of cache keys.
func (s SignalVector) Bits() string {
	return fmt.Sprintf("%d%d%d%d", b2i(s.ActiveImage), b2i(s.ActiveVideo), b2i(s.UploadedImage), b2i(s.ReferencedImage))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
