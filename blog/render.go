package blog

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"quill/cache"
	"quill/models"
)

// markdown renderer configured with Goldmark and useful extensions
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,     // tables, strikethrough, task lists, autolinks (GFM set)
		extension.Linkify, // linkify raw URLs
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
	),
)

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		// fall back to the raw text rather than failing the page
		return content
	}
	return buf.String()
}

// Renderer turns post bodies into HTML, keeping results in a cache.Store.
type Renderer struct {
	store cache.Store
	ttl   time.Duration
}

func NewRenderer(store cache.Store, ttl time.Duration) *Renderer {
	if store == nil {
		store = cache.Nop{}
	}
	return &Renderer{store: store, ttl: ttl}
}

func renderKey(postID int) string {
	return cache.Key("post", strconv.Itoa(postID), "body")
}

func (r *Renderer) Render(ctx context.Context, post *models.Post) string {
	key := renderKey(post.ID)
	if html, ok := r.store.Get(ctx, key); ok {
		return html
	}

	html := renderMarkdown(post.Body)
	if err := r.store.Set(ctx, key, html, r.ttl); err != nil {
		log.Warn().Err(err).Int("post_id", post.ID).Msg("failed to cache rendered post")
	}
	return html
}

// Invalidate drops cached renders for the given posts.
func (r *Renderer) Invalidate(ctx context.Context, postIDs ...int) {
	keys := make([]string, len(postIDs))
	for i, id := range postIDs {
		keys[i] = renderKey(id)
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Ints("post_ids", postIDs).Msg("failed to invalidate rendered posts")
	}
}
