package classifier

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

type matrixRow struct {
	when     string
	outcomes string
}

// decisionMatrix is the signal table given to the model. It mirrors the
// fallback rule order.
var decisionMatrix = []matrixRow{
	{"active_video and the prompt asks to change the video", "VIDEO_EDIT (no references) or VIDEO_EDIT_REF (references)"},
	{"video intent and any reference", "EDIT_IMAGE_REF_TO_VIDEO"},
	{"video intent and active_image", "IMAGE_TO_VIDEO, or IMAGE_TO_VIDEO_WITH_AUDIO when speech, singing or sound is requested"},
	{"video intent otherwise", "NEW_VIDEO, or NEW_VIDEO_WITH_AUDIO when speech, singing or sound is requested"},
	{"active_image and references and the prompt adds something", "EDIT_IMAGE_ADD_NEW"},
	{"active_image and references", "EDIT_IMAGE_REF"},
	{"active_image only", "EDIT_IMAGE (always, even when the prompt is ambiguous)"},
	{"references but no active_image", "NEW_IMAGE_REF"},
	{"no signals", "NEW_IMAGE"},
}

var enhancementRules = []struct {
	workflow domain.WorkflowType
	rule     string
}{
	{domain.WorkflowNewImage, "Expand into a vivid, specific image description: subject, setting, lighting, composition, style."},
	{domain.WorkflowNewImageRef, "Describe the new scene and state that the referenced subject's identity and features are preserved exactly."},
	{domain.WorkflowEditImage, "State only the requested change to @working_image and require that all other aspects stay the same."},
	{domain.WorkflowEditImageRef, "Say how the reference applies to @working_image (style, colour, subject) and keep everything else unchanged."},
	{domain.WorkflowEditImageAddNew, "Name the element taken from each reference tag and where it is placed in @working_image."},
	{domain.WorkflowNewVideo, "Describe the scene, the motion, the camera movement and the pacing."},
	{domain.WorkflowNewVideoWithAudio, "Describe the scene and motion, then the audio: exact dialogue in quotes, singing or ambient sound."},
	{domain.WorkflowImageToVideo, "Describe how @working_image comes to life: motion, camera movement, what stays fixed."},
	{domain.WorkflowImageToVideoWithAudio, "Describe how @working_image comes to life and the audio, with exact dialogue in quotes."},
	{domain.WorkflowEditImageRefToVideo, "Describe the video and refer to every reference by its tag."},
	{domain.WorkflowVideoEdit, "State only the requested change to @working_video and keep everything else unchanged."},
	{domain.WorkflowVideoEditRef, "State how the referenced asset changes @working_video, referring to it by its tag."},
}

var taggingRules = []string{
	"The active image is always called @working_image and the active video @working_video.",
	"Uploaded images are numbered in upload order as @reference_1, @reference_2, and so on.",
	"Images the user named keep their own tag, for example @dog.",
	"Every reference in play must be mentioned by its tag in the enhanced prompt.",
}

// InstructionInput is everything the instruction describes.
type InstructionInput struct {
	Prompt          string
	Signals         domain.SignalVector
	TotalReferences int
}

// BuildInstruction renders the single structured instruction sent to the
// classification dependency.
func BuildInstruction(in InstructionInput) string {
	var b strings.Builder
	b.Grow(4096)

	b.WriteString("You classify creative generation requests and rewrite them for the generation model.\n\n")

	b.WriteString("WORKFLOW TYPES (answer with exactly one):\n")
	for _, w := range domain.AllWorkflows {
		fmt.Fprintf(&b, "- %s\n", w)
	}

	b.WriteString("\nDECISION MATRIX (first matching row wins):\n")
	for i, row := range decisionMatrix {
		fmt.Fprintf(&b, "%d. %s -> %s\n", i+1, row.when, row.outcomes)
	}
	b.WriteString("Never choose NEW_IMAGE or NEW_IMAGE_REF while active_image is true.\n")
	b.WriteString("Never choose a workflow that needs an asset the signals say is absent.\n")

	b.WriteString("\nPROMPT ENHANCEMENT:\n")
	for _, r := range enhancementRules {
		fmt.Fprintf(&b, "- %s: %s\n", r.workflow, r.rule)
	}

	b.WriteString("\nREFERENCE TAGS:\n")
	for _, r := range taggingRules {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	b.WriteString("\nSIGNALS:\n")
	fmt.Fprintf(&b, "active_image: %t\n", in.Signals.ActiveImage)
	fmt.Fprintf(&b, "active_video: %t\n", in.Signals.ActiveVideo)
	fmt.Fprintf(&b, "uploaded_image: %t\n", in.Signals.UploadedImage)
	fmt.Fprintf(&b, "referenced_image: %t\n", in.Signals.ReferencedImage)
	fmt.Fprintf(&b, "total_references: %d\n", in.TotalReferences)

	b.WriteString("\nRESPONSE FORMAT:\n")
	b.WriteString(`Reply with one JSON object and nothing else: {"type": "<WORKFLOW TYPE>", "enhanced_prompt": "<rewritten prompt>", "reasoning": "<one sentence>"}`)
	b.WriteString("\n\nUSER PROMPT:\n")
	b.WriteString(in.Prompt)
	b.WriteString("\n")

	return b.String()
}
