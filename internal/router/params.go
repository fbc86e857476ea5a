package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/polyglot-media-router/internal/cache"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// Parameter names shared by provider payloads.
const (
	ParamPrompt          = "prompt"
	ParamAspectRatio     = "aspect_ratio"
	ParamDuration        = "duration"
	ParamGenerateAudio   = "generate_audio"
	ParamReferenceImages = "reference_images"
	ParamReferences      = "references"
	ParamImageURL        = "image_url"
	ParamVideoURL        = "video_url"
)

// Asset names reported in MissingRequiredAssetError.
const (
	AssetWorkingImage = "working_image"
	AssetWorkingVideo = "working_video"
	AssetReference    = "reference_image"
)

// BuildInput is one parameter-building request.
type BuildInput struct {
	Workflow        domain.WorkflowType
	Route           domain.Route
	EnhancedPrompt  string
	Working         *domain.WorkingAsset
	References      []domain.ReferenceAsset
	AspectRatio     string
	DurationSeconds int
}

// Builder assembles provider parameter bags. Static per-route defaults come
// from a template that is cached under a tpl: key; request fields are
// layered on top.
type Builder struct {
	cache  *cache.Layer
	logger *slog.Logger
}

// NewBuilder creates a builder. A nil cache disables template caching.
func NewBuilder(c *cache.Layer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cache: c, logger: logger}
}

// Build returns the parameter bag for in.Route. It fails with
// MissingRequiredAssetError rather than produce an incomplete payload, and it
// never drops a resolved reference.
func (b *Builder) Build(ctx context.Context, in BuildInput) (map[string]any, error) {
	if err := checkAssets(in); err != nil {
		return nil, err
	}

	tpl := b.template(ctx, in.Workflow, in.Route)
	if in.AspectRatio != "" {
		tpl.aspectRatio = in.AspectRatio
	}
	if in.DurationSeconds > 0 {
		tpl.duration = in.DurationSeconds
	}

	params := map[string]any{ParamPrompt: in.EnhancedPrompt}
	workingImage := workingURI(in.Working, false)

	switch in.Route.Kind {
	case domain.KindImage:
		images := make([]string, 0, len(in.References)+1)
		if workingImage != "" {
			images = append(images, workingImage)
		}
		for _, ref := range in.References {
			images = append(images, ref.URI)
		}
		params[ParamAspectRatio] = tpl.aspectRatio
		params[ParamReferenceImages] = images

	case domain.KindComposition:
		params[ParamAspectRatio] = tpl.aspectRatio
		params[ParamReferences] = domain.AssignTags(in.Working, in.References)

	case domain.KindVideo, domain.KindAudioVideo:
		params[ParamDuration] = tpl.duration
		params[ParamAspectRatio] = tpl.aspectRatio
		if in.Route.Kind == domain.KindAudioVideo {
			params[ParamGenerateAudio] = true
		}
		if workingImage != "" {
			params[ParamImageURL] = workingImage
		}
		if len(in.References) > 0 {
			params[ParamReferenceImages] = referenceURIs(in.References)
		}

	case domain.KindReferenceVideo:
		params[ParamDuration] = tpl.duration
		params[ParamAspectRatio] = tpl.aspectRatio
		params[ParamReferences] = domain.AssignTags(imageOnly(in.Working), in.References)

	case domain.KindVideoEdit:
		params[ParamVideoURL] = workingURI(in.Working, true)
		params[ParamReferences] = domain.AssignTags(nil, in.References)

	default:
		return nil, fmt.Errorf("unknown provider kind %q", in.Route.Kind)
	}
	return params, nil
}

func checkAssets(in BuildInput) error {
	switch {
	case in.Workflow.NeedsWorkingImage() && workingURI(in.Working, false) == "":
		return &domain.MissingRequiredAssetError{Workflow: in.Workflow, Asset: AssetWorkingImage}
	case in.Workflow.NeedsWorkingVideo() && workingURI(in.Working, true) == "":
		return &domain.MissingRequiredAssetError{Workflow: in.Workflow, Asset: AssetWorkingVideo}
	case in.Workflow.NeedsReference() && len(in.References) == 0:
		return &domain.MissingRequiredAssetError{Workflow: in.Workflow, Asset: AssetReference}
	}
	if in.Route.Kind == domain.KindVideoEdit && workingURI(in.Working, true) == "" {
		return &domain.MissingRequiredAssetError{Workflow: in.Workflow, Asset: AssetWorkingVideo}
	}
	return nil
}

func workingURI(w *domain.WorkingAsset, video bool) string {
	if w == nil || w.Video != video {
		return ""
	}
	return w.URI
}

func imageOnly(w *domain.WorkingAsset) *domain.WorkingAsset {
	if w == nil || w.Video {
		return nil
	}
	return w
}

func referenceURIs(refs []domain.ReferenceAsset) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.URI
	}
	return out
}

// template holds the static defaults of one (workflow, provider, model).
type template struct {
	aspectRatio string
	duration    int
}

func defaultTemplate(w domain.WorkflowType, kind domain.ProviderKind) template {
	switch kind {
	case domain.KindImage, domain.KindComposition:
		return template{aspectRatio: "1:1"}
	case domain.KindAudioVideo:
		return template{aspectRatio: "16:9", duration: 8}
	default:
		t := template{aspectRatio: "16:9", duration: 5}
		if w.Class() == domain.MediaAudioVideo {
			t.duration = 8
		}
		return t
	}
}

func (t template) toMap() map[string]any {
	return map[string]any{ParamAspectRatio: t.aspectRatio, ParamDuration: t.duration}
}

// templateFromMap reads a cached template. JSON numbers decode as float64.
func templateFromMap(m map[string]any) (template, bool) {
	ar, ok := m[ParamAspectRatio].(string)
	if !ok {
		return template{}, false
	}
	var d int
	switch v := m[ParamDuration].(type) {
	case float64:
		d = int(v)
	case int:
		d = v
	default:
		return template{}, false
	}
	return template{aspectRatio: ar, duration: d}, true
}

func (b *Builder) template(ctx context.Context, w domain.WorkflowType, route domain.Route) template {
	key := cache.TemplateKey(w, route.ProviderID, route.ModelID)
	if m, ok := b.cache.GetTemplate(ctx, key); ok {
		if t, ok := templateFromMap(m); ok {
			return t
		}
		b.logger.Warn("discarding malformed parameter template", slog.String("key", key))
		b.cache.Delete(ctx, key)
	}
	t := defaultTemplate(w, route.Kind)
	b.cache.SetTemplate(ctx, key, t.toMap())
	return t
}
