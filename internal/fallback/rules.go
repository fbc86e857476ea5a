// Package fallback implements the deterministic rule engine used whenever the
// classification dependency is unavailable or returns an unusable verdict.
package fallback

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// Input is everything the rule engine looks at.
type Input struct {
	Prompt  string
	Signals domain.SignalVector
}

// Decision is the outcome of the first matching rule.
type Decision struct {
	Workflow       domain.WorkflowType
	EnhancedPrompt string
	Reasoning      string
	Rule           string
}

// facts are derived once per evaluation and shared by every predicate.
type facts struct {
	signals  domain.SignalVector
	refs     bool
	edit     string
	video    string
	audio    string
	addition string
}

func (f facts) has(keyword string) bool { return keyword != "" }

// Rule is one (predicate, outcome) row of the priority table.
type Rule struct {
	Name     string
	Workflow domain.WorkflowType
	when     func(f facts) bool
	enhance  func(prompt string) string
}

const (
	identityClause  = "Preserve the identity, features and proportions of the referenced subject exactly."
	maintainClause  = "Maintain all other aspects of the original image."
	addNewClause    = "Integrate the referenced element naturally into @working_image and keep everything else unchanged."
	editRefClause   = "Apply the reference to @working_image and maintain all other aspects of the original image."
	videoKeepClause = "Keep all other aspects of the original video unchanged."
)

// rules is evaluated in order; the first match wins. The final image rules are
// exhaustive so evaluation always produces a decision.
var rules = []Rule{
	{
		Name:     "video_edit_ref",
		Workflow: domain.WorkflowVideoEditRef,
		when:     func(f facts) bool { return f.signals.ActiveVideo && f.has(f.edit) && f.refs },
		enhance:  appendClause(videoKeepClause),
	},
	{
		Name:     "video_edit",
		Workflow: domain.WorkflowVideoEdit,
		when:     func(f facts) bool { return f.signals.ActiveVideo && f.has(f.edit) },
		enhance:  appendClause(videoKeepClause),
	},
	{
		Name:     "ref_to_video",
		Workflow: domain.WorkflowEditImageRefToVideo,
		when:     func(f facts) bool { return f.has(f.video) && f.refs },
		enhance:  unchanged,
	},
	{
		Name:     "image_to_video_with_audio",
		Workflow: domain.WorkflowImageToVideoWithAudio,
		when:     func(f facts) bool { return f.has(f.video) && f.signals.ActiveImage && f.has(f.audio) },
		enhance:  unchanged,
	},
	{
		Name:     "image_to_video",
		Workflow: domain.WorkflowImageToVideo,
		when:     func(f facts) bool { return f.has(f.video) && f.signals.ActiveImage },
		enhance:  unchanged,
	},
	{
		Name:     "new_video_with_audio",
		Workflow: domain.WorkflowNewVideoWithAudio,
		when:     func(f facts) bool { return f.has(f.video) && f.has(f.audio) },
		enhance:  unchanged,
	},
	{
		Name:     "new_video",
		Workflow: domain.WorkflowNewVideo,
		when:     func(f facts) bool { return f.has(f.video) },
		enhance:  unchanged,
	},
	{
		Name:     "edit_image_add_new",
		Workflow: domain.WorkflowEditImageAddNew,
		when:     func(f facts) bool { return f.signals.ActiveImage && f.refs && f.has(f.addition) },
		enhance:  appendClause(addNewClause),
	},
	{
		Name:     "edit_image_ref",
		Workflow: domain.WorkflowEditImageRef,
		when:     func(f facts) bool { return f.signals.ActiveImage && f.refs },
		enhance:  appendClause(editRefClause),
	},
	{
		Name:     "edit_image",
		Workflow: domain.WorkflowEditImage,
		when:     func(f facts) bool { return f.signals.ActiveImage },
		enhance:  appendClause(maintainClause),
	},
	{
		Name:     "new_image_ref",
		Workflow: domain.WorkflowNewImageRef,
		when:     func(f facts) bool { return f.refs },
		enhance:  appendClause(identityClause),
	},
	{
		Name:     "new_image",
		Workflow: domain.WorkflowNewImage,
		when:     func(facts) bool { return true },
		enhance:  unchanged,
	},
}

// Rules returns the names of the rule table in priority order.
func Rules() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	return names
}

// Classify runs the rule table against in. It is a pure function.
func Classify(in Input) Decision {
	p := normalize(in.Prompt)
	f := facts{
		signals: in.Signals,
		refs:    in.Signals.HasReferences(),
	}
	f.edit, _ = editIntent.match(p)
	f.video, _ = videoIntent.match(p)
	f.audio, _ = audioIntent.match(p)
	f.addition, _ = additionIntent.match(p)

	for _, r := range rules {
		if !r.when(f) {
			continue
		}
		return Decision{
			Workflow:       r.Workflow,
			EnhancedPrompt: r.enhance(in.Prompt),
			Reasoning:      reasoning(r, f),
			Rule:           r.Name,
		}
	}
	// unreachable: the last rule always matches
	panic("fallback: rule table is not exhaustive")
}

func reasoning(r Rule, f facts) string {
	parts := []string{"signals=" + f.signals.Bits()}
	if f.refs {
		parts = append(parts, "references")
	}
	for _, kw := range []struct{ set, word string }{
		{editIntent.name, f.edit},
		{videoIntent.name, f.video},
		{audioIntent.name, f.audio},
		{additionIntent.name, f.addition},
	} {
		if kw.word != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", kw.set, kw.word))
		}
	}
	return fmt.Sprintf("fallback rule %s matched (%s)", r.Name, strings.Join(parts, ", "))
}

func unchanged(prompt string) string {
	return prompt
}

func appendClause(clause string) func(string) string {
	return func(prompt string) string {
		p := strings.TrimSpace(prompt)
		if p == "" {
			return clause
		}
		switch p[len(p)-1] {
		case '.', '!', '?':
			return p + " " + clause
		}
		return p + ". " + clause
	}
}
