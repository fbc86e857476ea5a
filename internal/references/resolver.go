// Package references extracts @tag mentions from prompts and resolves them
// to asset URIs through a ReferenceStore.
package references

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// A mention starts the prompt or follows a character that cannot belong to
// an address, so hello@studio.com names nothing.
var mentionPattern = regexp.MustCompile(`(?:^|[^\w.@])@([A-Za-z0-9_\-]+)`)

// maxParallelLookups bounds concurrent store lookups for one prompt.
const maxParallelLookups = 4

// Mentions returns the user-named tags in prompt, without "@", lowercased,
// deduplicated and in order of first appearance. Reserved tags such as
// @working_image and @reference_2 are not mentions.
func Mentions(prompt string) []string {
	matches := mentionPattern.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if seen[tag] || domain.IsReservedTag(tag) {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Count returns the number of reference assets in play for a request:
// distinct mentions plus uploaded images.
func Count(prompt string, uploads []string) int {
	return len(Mentions(prompt)) + countUploads(uploads)
}

func countUploads(uploads []string) int {
	n := 0
	for _, u := range uploads {
		if strings.TrimSpace(u) != "" {
			n++
		}
	}
	return n
}

// Resolution is the outcome of resolving one prompt's references.
type Resolution struct {
	// Named are mentions that resolved, in mention order.
	Named []domain.ReferenceAsset
	// Uploaded are the request's uploaded images, in upload order.
	Uploaded []domain.ReferenceAsset
	// Unresolved are mentions the store did not know.
	Unresolved []string
	// Total counts mentions (resolved or not) plus uploads.
	Total int
}

// Assets returns named references followed by uploads.
func (r *Resolution) Assets() []domain.ReferenceAsset {
	out := make([]domain.ReferenceAsset, 0, len(r.Named)+len(r.Uploaded))
	out = append(out, r.Named...)
	return append(out, r.Uploaded...)
}

// Resolver looks mentions up in a ReferenceStore.
type Resolver struct {
	store  ports.ReferenceStore
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil store resolves nothing.
func NewResolver(store ports.ReferenceStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve finds the user's assets for every mention in prompt and appends
// the uploads. Lookup failures leave the mention unresolved; they never fail
// the request.
func (r *Resolver) Resolve(ctx context.Context, userID, prompt string, uploads []string) *Resolution {
	mentions := Mentions(prompt)
	res := &Resolution{Total: len(mentions) + countUploads(uploads)}

	for _, u := range uploads {
		if u = strings.TrimSpace(u); u != "" {
			res.Uploaded = append(res.Uploaded, domain.ReferenceAsset{URI: u})
		}
	}

	if len(mentions) == 0 {
		return res
	}
	if r.store == nil {
		res.Unresolved = mentions
		return res
	}

	found := make([]*domain.ReferenceAsset, len(mentions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, tag := range mentions {
		g.Go(func() error {
			asset, err := r.store.Lookup(gctx, userID, tag)
			if err != nil {
				if !errors.Is(err, domain.ErrReferenceNotFound) {
					r.logger.Warn("reference lookup failed",
						slog.String("user_id", userID),
						slog.String("tag", tag),
						slog.String("error", err.Error()))
				}
				return nil
			}
			found[i] = asset
			return nil
		})
	}
	_ = g.Wait()

	for i, tag := range mentions {
		if found[i] == nil || found[i].URI == "" {
			res.Unresolved = append(res.Unresolved, tag)
			continue
		}
		res.Named = append(res.Named, domain.ReferenceAsset{URI: found[i].URI, Tag: tag})
	}
	return res
}
