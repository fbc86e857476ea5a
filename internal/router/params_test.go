package router

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-media-router/internal/adapters/cache/memory"
	"github.com/tjfontaine/polyglot-media-router/internal/cache"
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

func route(kind domain.ProviderKind) domain.Route {
	return domain.Route{ProviderID: "p", ModelID: "m", Kind: kind}
}

func TestBuilderBuild(t *testing.T) {
	workingImage := &domain.WorkingAsset{URI: "img://w"}
	workingVideo := &domain.WorkingAsset{URI: "vid://w", Video: true}
	refs := []domain.ReferenceAsset{{URI: "img://cat", Tag: "cat"}, {URI: "img://up"}}

	tests := []struct {
		name string
		in   BuildInput
		want map[string]any
	}{
		{
			name: "new image",
			in:   BuildInput{Workflow: domain.WorkflowNewImage, Route: route(domain.KindImage), EnhancedPrompt: "p"},
			want: map[string]any{"prompt": "p", "aspect_ratio": "1:1", "reference_images": []string{}},
		},
		{
			name: "edit image ref keeps working image first",
			in: BuildInput{Workflow: domain.WorkflowEditImageRef, Route: route(domain.KindImage), EnhancedPrompt: "p",
				Working: workingImage, References: refs[:1], AspectRatio: "4:3"},
			want: map[string]any{"prompt": "p", "aspect_ratio": "4:3", "reference_images": []string{"img://w", "img://cat"}},
		},
		{
			name: "composition",
			in: BuildInput{Workflow: domain.WorkflowEditImageAddNew, Route: route(domain.KindComposition), EnhancedPrompt: "p",
				Working: workingImage, References: refs},
			want: map[string]any{"prompt": "p", "aspect_ratio": "1:1", "references": []domain.TaggedAsset{
				{URI: "img://w", Tag: "@working_image"},
				{URI: "img://cat", Tag: "@cat"},
				{URI: "img://up", Tag: "@reference_1"},
			}},
		},
		{
			name: "image to video",
			in:   BuildInput{Workflow: domain.WorkflowImageToVideo, Route: route(domain.KindVideo), EnhancedPrompt: "p", Working: workingImage},
			want: map[string]any{"prompt": "p", "duration": 5, "aspect_ratio": "16:9", "image_url": "img://w"},
		},
		{
			name: "new video with audio",
			in:   BuildInput{Workflow: domain.WorkflowNewVideoWithAudio, Route: route(domain.KindAudioVideo), EnhancedPrompt: "p", DurationSeconds: 6},
			want: map[string]any{"prompt": "p", "duration": 6, "aspect_ratio": "16:9", "generate_audio": true},
		},
		{
			name: "video keeps stray references",
			in:   BuildInput{Workflow: domain.WorkflowNewVideo, Route: route(domain.KindVideo), EnhancedPrompt: "p", References: refs[1:]},
			want: map[string]any{"prompt": "p", "duration": 5, "aspect_ratio": "16:9", "reference_images": []string{"img://up"}},
		},
		{
			name: "reference video",
			in:   BuildInput{Workflow: domain.WorkflowEditImageRefToVideo, Route: route(domain.KindReferenceVideo), EnhancedPrompt: "p", References: refs},
			want: map[string]any{"prompt": "p", "duration": 5, "aspect_ratio": "16:9", "references": []domain.TaggedAsset{
				{URI: "img://cat", Tag: "@cat"},
				{URI: "img://up", Tag: "@reference_1"},
			}},
		},
		{
			name: "video edit",
			in:   BuildInput{Workflow: domain.WorkflowVideoEditRef, Route: route(domain.KindVideoEdit), EnhancedPrompt: "p", Working: workingVideo, References: refs[1:]},
			want: map[string]any{"prompt": "p", "video_url": "vid://w", "references": []domain.TaggedAsset{
				{URI: "img://up", Tag: "@reference_1"},
			}},
		},
	}

	b := NewBuilder(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Build() = %#v\nwant %#v", got, tt.want)
			}
		})
	}
}

func TestBuilderBuild_MissingAssets(t *testing.T) {
	tests := []struct {
		name      string
		in        BuildInput
		wantAsset string
	}{
		{"edit without image", BuildInput{Workflow: domain.WorkflowEditImage, Route: route(domain.KindImage)}, AssetWorkingImage},
		{"edit with a video instead", BuildInput{Workflow: domain.WorkflowEditImage, Route: route(domain.KindImage),
			Working: &domain.WorkingAsset{URI: "vid://w", Video: true}}, AssetWorkingImage},
		{"video edit without video", BuildInput{Workflow: domain.WorkflowVideoEdit, Route: route(domain.KindVideoEdit)}, AssetWorkingVideo},
		{"ref without references", BuildInput{Workflow: domain.WorkflowNewImageRef, Route: route(domain.KindImage)}, AssetReference},
	}

	b := NewBuilder(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.in)
			var missing *domain.MissingRequiredAssetError
			if !errors.As(err, &missing) {
				t.Fatalf("Build() error = %v, want MissingRequiredAssetError", err)
			}
			if missing.Asset != tt.wantAsset {
				t.Errorf("asset = %q, want %q", missing.Asset, tt.wantAsset)
			}
		})
	}
}

func TestBuilderBuild_TemplateCache(t *testing.T) {
	backend, err := memory.New(16)
	if err != nil {
		t.Fatalf("memory.New() error = %v", err)
	}
	layer := cache.New(backend, time.Hour, nil)
	b := NewBuilder(layer, nil)
	ctx := context.Background()
	in := BuildInput{Workflow: domain.WorkflowNewVideo, Route: route(domain.KindVideo), EnhancedPrompt: "p"}

	first, err := b.Build(ctx, in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	key := cache.TemplateKey(domain.WorkflowNewVideo, "p", "m")
	if _, ok := layer.GetTemplate(ctx, key); !ok {
		t.Fatal("template not cached after first build")
	}

	// A template served from cache decodes numbers as float64; the bag must
	// still carry an int duration.
	second, err := b.Build(ctx, in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached build = %#v, want %#v", second, first)
	}

	// A corrupt template is replaced by the defaults.
	layer.SetTemplate(ctx, key, map[string]any{"aspect_ratio": 7})
	third, err := b.Build(ctx, in)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if third[ParamAspectRatio] != "16:9" {
		t.Errorf("aspect ratio = %v, want 16:9", third[ParamAspectRatio])
	}
}
