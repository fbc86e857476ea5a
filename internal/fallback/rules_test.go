package fallback

import (
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		want       domain.WorkflowType
		wantPrompt string
	}{
		{
			name:       "no signals plain prompt",
			in:         Input{Prompt: "a red bicycle"},
			want:       domain.WorkflowNewImage,
			wantPrompt: "a red bicycle",
		},
		{
			name:       "active image add without reference",
			in:         Input{Prompt: "add a hat", Signals: domain.SignalVector{ActiveImage: true}},
			want:       domain.WorkflowEditImage,
			wantPrompt: "add a hat. " + maintainClause,
		},
		{
			name:       "active image ambiguous prompt",
			in:         Input{Prompt: "a sunny beach", Signals: domain.SignalVector{ActiveImage: true}},
			want:       domain.WorkflowEditImage,
			wantPrompt: "a sunny beach. " + maintainClause,
		},
		{
			name: "active image with uploads no addition intent",
			in: Input{
				Prompt:  "combine the style of both",
				Signals:         domain.SignalVector{ActiveImage: true, UploadedImage: true},
			},
			want:       domain.WorkflowEditImageRef,
			wantPrompt: "combine the style of both. " + editRefClause,
		},
		{
			name: "active image with upload and addition intent",
			in: Input{
				Prompt:  "Add the dog from the photo!",
				Signals:         domain.SignalVector{ActiveImage: true, UploadedImage: true},
			},
			want:       domain.WorkflowEditImageAddNew,
			wantPrompt: "Add the dog from the photo! " + addNewClause,
		},
		{
			name:       "addition keyword needs whole word",
			in:         Input{Prompt: "a sweater with a padded collar", Signals: domain.SignalVector{ActiveImage: true, ReferencedImage: true}},
			want:       domain.WorkflowEditImageRef,
			wantPrompt: "a sweater with a padded collar. " + editRefClause,
		},
		{
			name:       "upload only",
			in:         Input{Prompt: "a portrait in this style", Signals: domain.SignalVector{UploadedImage: true}},
			want:       domain.WorkflowNewImageRef,
			wantPrompt: "a portrait in this style. " + identityClause,
		},
		{
			name:       "mention without signal is not a reference",
			in:         Input{Prompt: "@bob on a beach"},
			want:       domain.WorkflowNewImage,
			wantPrompt: "@bob on a beach",
		},
		{
			name:       "mention with referenced signal",
			in:         Input{Prompt: "@bob on a beach", Signals: domain.SignalVector{ReferencedImage: true}},
			want:       domain.WorkflowNewImageRef,
			wantPrompt: "@bob on a beach. " + identityClause,
		},
		{
			name:       "email address without signals",
			in:         Input{Prompt: "a poster that says email hello@studio.com for bookings"},
			want:       domain.WorkflowNewImage,
			wantPrompt: "a poster that says email hello@studio.com for bookings",
		},
		{
			name:       "active video edit",
			in:         Input{Prompt: "change the sky to sunset", Signals: domain.SignalVector{ActiveVideo: true}},
			want:       domain.WorkflowVideoEdit,
			wantPrompt: "change the sky to sunset. " + videoKeepClause,
		},
		{
			name:       "active video edit with reference",
			in:         Input{Prompt: "replace the car with @mycar", Signals: domain.SignalVector{ActiveVideo: true, ReferencedImage: true}},
			want:       domain.WorkflowVideoEditRef,
			wantPrompt: "replace the car with @mycar. " + videoKeepClause,
		},
		{
			name:       "active video without edit intent",
			in:         Input{Prompt: "make a video of a dog", Signals: domain.SignalVector{ActiveVideo: true}},
			want:       domain.WorkflowNewVideo,
			wantPrompt: "make a video of a dog",
		},
		{
			name:       "active video image intent",
			in:         Input{Prompt: "a red bicycle", Signals: domain.SignalVector{ActiveVideo: true}},
			want:       domain.WorkflowNewImage,
			wantPrompt: "a red bicycle",
		},
		{
			name:       "new video",
			in:         Input{Prompt: "generate a video of waves"},
			want:       domain.WorkflowNewVideo,
			wantPrompt: "generate a video of waves",
		},
		{
			name:       "new video with audio",
			in:         Input{Prompt: "a video of a woman singing a song"},
			want:       domain.WorkflowNewVideoWithAudio,
			wantPrompt: "a video of a woman singing a song",
		},
		{
			name:       "image to video",
			in:         Input{Prompt: "animate this", Signals: domain.SignalVector{ActiveImage: true}},
			want:       domain.WorkflowImageToVideo,
			wantPrompt: "animate this",
		},
		{
			name:       "image to video with audio",
			in:         Input{Prompt: "animate her talking to the camera", Signals: domain.SignalVector{ActiveImage: true}},
			want:       domain.WorkflowImageToVideoWithAudio,
			wantPrompt: "animate her talking to the camera",
		},
		{
			name:       "reference to video",
			in:         Input{Prompt: "make a video with this character", Signals: domain.SignalVector{UploadedImage: true}},
			want:       domain.WorkflowEditImageRefToVideo,
			wantPrompt: "make a video with this character",
		},
		{
			name:       "reference to video with working image",
			in:         Input{Prompt: "animate them dancing", Signals: domain.SignalVector{ActiveImage: true, ReferencedImage: true}},
			want:       domain.WorkflowEditImageRefToVideo,
			wantPrompt: "animate them dancing",
		},
		{
			name:       "video keyword needs whole word",
			in:         Input{Prompt: "a clipboard on a desk"},
			want:       domain.WorkflowNewImage,
			wantPrompt: "a clipboard on a desk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got.Workflow != tt.want {
				t.Errorf("Workflow = %s, want %s (reasoning: %s)", got.Workflow, tt.want, got.Reasoning)
			}
			if got.EnhancedPrompt != tt.wantPrompt {
				t.Errorf("EnhancedPrompt = %q, want %q", got.EnhancedPrompt, tt.wantPrompt)
			}
			if !strings.Contains(got.Reasoning, got.Rule) {
				t.Errorf("Reasoning %q does not name rule %q", got.Reasoning, got.Rule)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	inputs := []Input{
		{Prompt: "add a hat", Signals: domain.SignalVector{ActiveImage: true}},
		{Prompt: "a video of a woman singing", Signals: domain.SignalVector{}},
		{Prompt: "change the colors", Signals: domain.SignalVector{ActiveVideo: true, UploadedImage: true}},
	}

	first := make([]Decision, len(inputs))
	for i, in := range inputs {
		first[i] = Classify(in)
	}
	// Reverse order so no result can depend on a previous call.
	for i := len(inputs) - 1; i >= 0; i-- {
		if got := Classify(inputs[i]); got != first[i] {
			t.Errorf("input %d: got %+v, want %+v", i, got, first[i])
		}
	}
}

func TestClassify_AlwaysCompatible(t *testing.T) {
	prompts := []string{
		"",
		"a red bicycle",
		"add a cat",
		"make it snow",
		"animate this",
		"a video of a man talking",
		"edit the video to add @sam",
	}

	for mask := 0; mask < 16; mask++ {
		s := domain.SignalVector{
			ActiveImage:     mask&1 != 0,
			ActiveVideo:     mask&2 != 0,
			UploadedImage:   mask&4 != 0,
			ReferencedImage: mask&8 != 0,
		}
		for _, p := range prompts {
			d := Classify(Input{Prompt: p, Signals: s})
			if !d.Workflow.Valid() {
				t.Fatalf("signals %s prompt %q: invalid workflow %q", s.Bits(), p, d.Workflow)
			}
			if !d.Workflow.CompatibleWith(s) {
				t.Errorf("signals %s prompt %q: %s is not compatible", s.Bits(), p, d.Workflow)
			}
			if d.Reasoning == "" {
				t.Errorf("signals %s prompt %q: empty reasoning", s.Bits(), p)
			}
		}
	}
}

func TestRules_Order(t *testing.T) {
	names := Rules()
	if len(names) != len(rules) {
		t.Fatalf("Rules() returned %d names, want %d", len(names), len(rules))
	}
	if names[0] != "video_edit_ref" {
		t.Errorf("first rule = %s, want video_edit_ref", names[0])
	}
	if names[len(names)-1] != "new_image" {
		t.Errorf("last rule = %s, want new_image", names[len(names)-1])
	}

	seen := make(map[domain.WorkflowType]bool)
	for _, r := range rules {
		seen[r.Workflow] = true
	}
	for _, w := range domain.AllWorkflows {
		if !seen[w] {
			t.Errorf("no fallback rule produces %s", w)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want normalizedPrompt
	}{
		{"", " "},
		{"Make IT  rain!", " make it rain "},
		{"  @hero, in a café ", " @hero in a café "},
	}
	for _, tt := range tests {
		if got := normalize(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
