package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/references"
	"github.com/tjfontaine/polyglot-media-router/internal/runtime"
	"github.com/tjfontaine/polyglot-media-router/internal/server"
)

type classifyFlags struct {
	userID      string
	activeImage string
	activeVideo string
	uploads     []string
	aspectRatio string
	duration    int
}

// request builds the service request. Signals follow the supplied assets.
func (f *classifyFlags) request(prompt string) *domain.Request {
	return &domain.Request{
		Prompt: prompt,
		UserID: f.userID,
		Signals: domain.SignalVector{
			ActiveImage:     f.activeImage != "",
			ActiveVideo:     f.activeVideo != "",
			UploadedImage:   len(f.uploads) > 0,
			ReferencedImage: len(references.Mentions(prompt)) > 0,
		},
		Context: domain.RequestContext{
			WorkingImageURI: f.activeImage,
			WorkingVideoURI: f.activeVideo,
			UploadedImages:  f.uploads,
			AspectRatio:     f.aspectRatio,
			DurationSeconds: f.duration,
		},
	}
}

func newClassifyCmd(g *globalFlags) *cobra.Command {
	f := &classifyFlags{}

	cmd := &cobra.Command{
		Use:   "classify <prompt>",
		Short: "Classify one prompt and print the routing decision",
		Long: `Classify one prompt and print the classification and routing decision
as JSON. Uses the configured classifier, cache, limits and storage.

Examples:
  router classify "a red bicycle"
  router classify --active-image https://cdn/img.png "add a hat"
  router classify --upload a.png --upload b.png "put them together"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, err := runtime.New(ctx,
				runtime.WithConfig(cfg),
				runtime.WithLogger(logger),
				runtime.WithMetricsRegistry(prometheus.NewRegistry()))
			if err != nil {
				return fmt.Errorf("creating service: %w", err)
			}
			defer func() { _ = svc.Shutdown(context.Background()) }()

			result, decision, routeErr := svc.ClassifyAndRoute(ctx, f.request(strings.Join(args, " ")))
			if result == nil {
				return routeErr
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(&server.ClassifyResponse{Classification: result, Routing: decision}); err != nil {
				return err
			}

			var missing *domain.MissingRequiredAssetError
			if errors.As(routeErr, &missing) {
				return fmt.Errorf("cannot route %s: %w", result.WorkflowType, routeErr)
			}
			return routeErr
		},
	}

	cmd.Flags().StringVarP(&f.userID, "user", "u", "cli", "user id for references, limits and caching")
	cmd.Flags().StringVar(&f.activeImage, "active-image", "", "URI of the active image")
	cmd.Flags().StringVar(&f.activeVideo, "active-video", "", "URI of the active video")
	cmd.Flags().StringArrayVar(&f.uploads, "upload", nil, "URI of an uploaded reference image (repeatable)")
	cmd.Flags().StringVar(&f.aspectRatio, "aspect-ratio", "", "aspect ratio override, e.g. 16:9")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "video duration override in seconds")

	return cmd
}
