// Package domain contains the core types of the classification and routing engine.
package domain

import "strings"

// WorkflowType is the closed set of generation workflows a request can belong to.
type WorkflowType string

const (
	WorkflowNewImage              WorkflowType = "NEW_IMAGE"
	WorkflowNewImageRef           WorkflowType = "NEW_IMAGE_REF"
	WorkflowEditImage             WorkflowType = "EDIT_IMAGE"
	WorkflowEditImageRef          WorkflowType = "EDIT_IMAGE_REF"
	WorkflowEditImageAddNew       WorkflowType = "EDIT_IMAGE_ADD_NEW"
	WorkflowNewVideo              WorkflowType = "NEW_VIDEO"
	WorkflowNewVideoWithAudio     WorkflowType = "NEW_VIDEO_WITH_AUDIO"
	WorkflowImageToVideo          WorkflowType = "IMAGE_TO_VIDEO"
	WorkflowImageToVideoWithAudio WorkflowType = "IMAGE_TO_VIDEO_WITH_AUDIO"
	WorkflowEditImageRefToVideo   WorkflowType = "EDIT_IMAGE_REF_TO_VIDEO"
	WorkflowVideoEdit             WorkflowType = "VIDEO_EDIT"
	WorkflowVideoEditRef          WorkflowType = "VIDEO_EDIT_REF"
)

// AllWorkflows lists every WorkflowType in declaration order.
var AllWorkflows = []WorkflowType{
	WorkflowNewImage,
	WorkflowNewImageRef,
	WorkflowEditImage,
	WorkflowEditImageRef,
	WorkflowEditImageAddNew,
	WorkflowNewVideo,
	WorkflowNewVideoWithAudio,
	WorkflowImageToVideo,
	WorkflowImageToVideoWithAudio,
	WorkflowEditImageRefToVideo,
	WorkflowVideoEdit,
	WorkflowVideoEditRef,
}

// MediaClass groups workflows by the kind of media they produce.
type MediaClass string

const (
	MediaImage      MediaClass = "image"
	MediaVideo      MediaClass = "video"
	MediaAudioVideo MediaClass = "audio_video"
)

// workflowSpec describes the inputs each workflow needs.
type workflowSpec struct {
	class             MediaClass
	needsWorkingImage bool
	needsWorkingVideo bool
	needsReference    bool
}

var workflowSpecs = map[WorkflowType]workflowSpec{
	WorkflowNewImage:              {class: MediaImage},
	WorkflowNewImageRef:           {class: MediaImage, needsReference: true},
	WorkflowEditImage:             {class: MediaImage, needsWorkingImage: true},
	WorkflowEditImageRef:          {class: MediaImage, needsWorkingImage: true, needsReference: true},
	WorkflowEditImageAddNew:       {class: MediaImage, needsWorkingImage: true, needsReference: true},
	WorkflowNewVideo:              {class: MediaVideo},
	WorkflowNewVideoWithAudio:     {class: MediaAudioVideo},
	WorkflowImageToVideo:          {class: MediaVideo, needsWorkingImage: true},
	WorkflowImageToVideoWithAudio: {class: MediaAudioVideo, needsWorkingImage: true},
	WorkflowEditImageRefToVideo:   {class: MediaVideo, needsReference: true},
	WorkflowVideoEdit:             {class: MediaVideo, needsWorkingVideo: true},
	WorkflowVideoEditRef:          {class: MediaVideo, needsWorkingVideo: true, needsReference: true},
}

// Valid reports whether w is a member of the closed workflow set.
func (w WorkflowType) Valid() bool {
	_, ok := workflowSpecs[w]
	return ok
}

func (w WorkflowType) String() string {
	return string(w)
}

// Class returns the media class produced by the workflow.
func (w WorkflowType) Class() MediaClass {
	return workflowSpecs[w].class
}

// IsImage reports whether the workflow produces a still image.
func (w WorkflowType) IsImage() bool {
	return w.Class() == MediaImage
}

// NeedsWorkingImage reports whether the workflow edits or animates the active image.
func (w WorkflowType) NeedsWorkingImage() bool {
	return workflowSpecs[w].needsWorkingImage
}

// NeedsWorkingVideo reports whether the workflow edits the active video.
func (w WorkflowType) NeedsWorkingVideo() bool {
	return workflowSpecs[w].needsWorkingVideo
}

// NeedsReference reports whether the workflow consumes at least one reference asset.
func (w WorkflowType) NeedsReference() bool {
	return workflowSpecs[w].needsReference
}

// CompatibleWith reports whether the signal vector can supply the inputs the
// workflow needs. Only the caller's signals say a reference exists; @words in
// the prompt never do.
func (w WorkflowType) CompatibleWith(s SignalVector) bool {
	spec, ok := workflowSpecs[w]
	if !ok {
		return false
	}
	if spec.needsWorkingImage && !s.ActiveImage {
		return false
	}
	if spec.needsWorkingVideo && !s.ActiveVideo {
		return false
	}
	if spec.needsReference && !s.HasReferences() {
		return false
	}
	return true
}

// WorkflowVerdict is the tagged result of interpreting a raw workflow label.
// Exactly one of the two variants holds: Valid with Workflow set, or invalid
// with Raw carrying the rejected label.
type WorkflowVerdict struct {
	Workflow WorkflowType
	Raw      string
	valid    bool
}

// ValidVerdict builds the Valid variant.
func ValidVerdict(w WorkflowType) WorkflowVerdict {
	return WorkflowVerdict{Workflow: w, Raw: string(w), valid: true}
}

// InvalidVerdict builds the Invalid variant.
func InvalidVerdict(raw string) WorkflowVerdict {
	return WorkflowVerdict{Raw: raw}
}

// IsValid reports which variant the verdict holds.
func (v WorkflowVerdict) IsValid() bool {
	return v.valid
}

// ParseWorkflowType interprets a label returned by the classification
// dependency. Case and surrounding whitespace are ignored; hyphens and spaces
// are accepted in place of underscores.
func ParseWorkflowType(raw string) WorkflowVerdict {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	w := WorkflowType(norm)
	if w.Valid() {
		return ValidVerdict(w)
	}
	return InvalidVerdict(raw)
}
