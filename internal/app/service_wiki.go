package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"lineage/api/internal/gitrepo"
	"lineage/api/internal/store"
	"lineage/api/internal/wiki"
)

type WikiPageInput struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Message string `json:"message"`
}

// renderOptions resolves links against the stored page titles and expands
// {{clergy:ID}} to the clergy member's name.
func (s *Service) renderOptions(ctx context.Context) wiki.Options {
	titles, err := s.store.WikiTitles(ctx)
	if err != nil {
		s.logger.Warn("wiki titles unavailable; links render as missing", zap.Error(err))
	}
	return wiki.Options{
		Pages: wiki.NewPageSet(titles...),
		Shortcodes: map[string]wiki.ShortcodeFunc{
			"clergy": func(id string) string {
				item, err := s.store.GetClergy(ctx, strings.TrimSpace(id))
				if err != nil {
					return "**Unknown clergy**"
				}
				return "**" + item.Name + "**"
			},
		},
	}
}

func (s *Service) ListWikiPages(ctx context.Context) ([]map[string]any, error) {
	pages, err := s.store.ListWikiPages(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(pages))
	for _, page := range pages {
		items = append(items, map[string]any{
			"slug":      page.Slug,
			"title":     page.Title,
			"revision":  page.Revision,
			"updatedBy": page.UpdatedBy,
			"updatedAt": page.UpdatedAt,
		})
	}
	return items, nil
}

// GetWikiPage accepts a slug or a page title. A page that does not exist
// yet renders as the empty page rather than 404, so links to missing pages
// land on an editable stub.
func (s *Service) GetWikiPage(ctx context.Context, name string) (map[string]any, error) {
	slug := wiki.Slug(name)
	if slug == "" {
		return nil, validationError("slug", "page name is required")
	}
	page, err := s.store.GetWikiPage(ctx, slug)
	if store.IsNotFound(err) {
		return map[string]any{
			"slug":   slug,
			"title":  strings.TrimSpace(name),
			"body":   "",
			"html":   wiki.Render("", wiki.Options{}),
			"exists": false,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.wikiPayload(ctx, page), nil
}

func (s *Service) SaveWikiPage(ctx context.Context, session Session, name string, input WikiPageInput) (map[string]any, error) {
	slug := wiki.Slug(name)
	if slug == "" {
		return nil, validationError("slug", "page name is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title", "title is required")
	}
	if s.wiki == nil {
		return nil, errWikiUnavailable
	}

	commit, err := s.wiki.SavePage(slug, gitrepo.Page{Title: title, Body: input.Body}, session.UserName, strings.TrimSpace(input.Message))
	if err != nil {
		return nil, err
	}
	page := store.WikiPage{
		Slug:      slug,
		Title:     title,
		Body:      input.Body,
		Revision:  commit.Hash,
		UpdatedBy: session.UserName,
	}
	if err := s.store.UpsertWikiPage(ctx, page); err != nil {
		return nil, err
	}
	s.indexWiki(page)
	s.audit(ctx, "wiki.updated", session.UserName, "wiki", slug, map[string]any{
		"title":    title,
		"revision": commit.Hash,
	})

	saved, err := s.store.GetWikiPage(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.wikiPayload(ctx, saved), nil
}

func (s *Service) WikiHistory(ctx context.Context, name string, limit int) (map[string]any, error) {
	if s.wiki == nil {
		return nil, errWikiUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	slug := wiki.Slug(name)
	commits, err := s.wiki.History(slug, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"slug": slug, "history": items}, nil
}

func (s *Service) WikiRevision(ctx context.Context, name, hash string) (map[string]any, error) {
	if s.wiki == nil {
		return nil, errWikiUnavailable
	}
	slug := wiki.Slug(name)
	page, commit, err := s.wiki.PageAt(slug, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"slug":   slug,
		"title":  page.Title,
		"body":   page.Body,
		"html":   wiki.Render(page.Body, s.renderOptions(ctx)),
		"commit": commitPayload(commit),
	}, nil
}

func (s *Service) wikiPayload(ctx context.Context, page store.WikiPage) map[string]any {
	return map[string]any{
		"slug":      page.Slug,
		"title":     page.Title,
		"body":      page.Body,
		"html":      wiki.Render(page.Body, s.renderOptions(ctx)),
		"revision":  page.Revision,
		"updatedBy": page.UpdatedBy,
		"updatedAt": page.UpdatedAt,
		"links":     wiki.Links(page.Body),
		"exists":    true,
	}
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
		"added":     commit.Added,
		"removed":   commit.Removed,
	}
}
