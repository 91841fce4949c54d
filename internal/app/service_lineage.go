package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lineage/api/internal/chart"
	"lineage/api/internal/export"
	"lineage/api/internal/photo"
	"lineage/api/internal/store"
)

const (
	defaultChartWidth = 960
	minChartWidth     = 320
	maxChartWidth     = 4000
)

func clampChartWidth(width int) int {
	if width <= 0 {
		return defaultChartWidth
	}
	if width < minChartWidth {
		return minChartWidth
	}
	if width > maxChartWidth {
		return maxChartWidth
	}
	return width
}

// lineageLayout lays out the officiant ancestry and the descendants of one
// clergy member.
func (s *Service) lineageLayout(ctx context.Context, clergyID string, width int) (chart.Result, error) {
	refs, links, err := s.store.LineageGraph(ctx)
	if err != nil {
		return chart.Result{}, err
	}
	nodes, edges := lineageSubgraph(clergyID, refs, links)
	if len(nodes) == 0 {
		return chart.Result{}, fmt.Errorf("clergy %s: %w", clergyID, errNotInGraph)
	}
	return chart.Layout(nodes, edges, float64(clampChartWidth(width)), chart.DefaultOptions()), nil
}

var errNotInGraph = errors.New("not in lineage graph")

// lineageSubgraph keeps the nodes reachable from focus by walking links
// backwards (officiants) and forwards (those ordained or consecrated), in the
// order the graph lists them.
func lineageSubgraph(focus string, refs []store.ClergyRef, links []store.LineageLink) ([]chart.Node, []chart.Link) {
	known := false
	for _, ref := range refs {
		if ref.ID == focus {
			known = true
			break
		}
	}
	if !known {
		return nil, nil
	}

	incoming := map[string][]string{}
	outgoing := map[string][]string{}
	for _, link := range links {
		outgoing[link.Source] = append(outgoing[link.Source], link.Target)
		incoming[link.Target] = append(incoming[link.Target], link.Source)
	}
	keep := map[string]bool{focus: true}
	walk := func(next map[string][]string) {
		queue := []string{focus}
		seen := map[string]bool{focus: true}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, id := range next[cur] {
				if seen[id] {
					continue
				}
				seen[id] = true
				keep[id] = true
				queue = append(queue, id)
			}
		}
	}
	walk(incoming)
	walk(outgoing)

	nodes := make([]chart.Node, 0, len(keep))
	for _, ref := range refs {
		if keep[ref.ID] {
			nodes = append(nodes, chart.Node{ID: ref.ID, Name: ref.Name})
		}
	}
	edges := make([]chart.Link, 0)
	for _, link := range links {
		if keep[link.Source] && keep[link.Target] {
			edges = append(edges, chart.Link{Source: link.Source, Target: link.Target, Kind: link.Kind})
		}
	}
	return nodes, edges
}

func (s *Service) Lineage(ctx context.Context, clergyID string, width int) (chart.Result, error) {
	if _, err := s.store.GetClergy(ctx, clergyID); err != nil {
		return chart.Result{}, err
	}
	return s.lineageLayout(ctx, clergyID, width)
}

func (s *Service) LineageSVG(ctx context.Context, clergyID string, width int) (string, error) {
	res, err := s.Lineage(ctx, clergyID, width)
	if err != nil {
		return "", err
	}
	return chart.RenderSVG(res), nil
}

// exportSource adapts the service to the record-sheet exporter.
type exportSource struct {
	s *Service
}

func (e exportSource) GetClergy(ctx context.Context, id string) (store.Clergy, error) {
	return e.s.store.GetClergy(ctx, id)
}

func (e exportSource) WikiTitles(ctx context.Context) ([]string, error) {
	return e.s.store.WikiTitles(ctx)
}

// LineageSVG is empty for a clergy member with no recorded officiants or
// descendants.
func (e exportSource) LineageSVG(ctx context.Context, clergyID string) (string, error) {
	res, err := e.s.lineageLayout(ctx, clergyID, defaultChartWidth)
	if err != nil {
		return "", fmt.Errorf("lineage chart: %w", err)
	}
	if len(res.Nodes) < 2 {
		return "", nil
	}
	return chart.RenderSVG(res), nil
}

func (s *Service) Export(ctx context.Context, session Session, clergyID, rawFormat string) (*export.Result, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	result, err := s.exports.Export(ctx, export.Request{ClergyID: clergyID, Format: format})
	if err != nil {
		return nil, err
	}
	s.logger.Info("clergy record exported",
		zap.String("clergy_id", clergyID),
		zap.String("format", string(format)),
		zap.String("user_id", session.UserID))
	return result, nil
}

// UploadPhoto stores a new photo and replaces the previous one.
func (s *Service) UploadPhoto(ctx context.Context, session Session, clergyID string, body io.Reader, crop *photo.Rect) (map[string]any, error) {
	if s.photos == nil {
		return nil, errPhotosUnavailable
	}
	current, err := s.store.GetClergy(ctx, clergyID)
	if err != nil {
		return nil, err
	}
	key, err := s.photos.Upload(ctx, clergyID, body, crop)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetClergyPhoto(ctx, clergyID, key); err != nil {
		s.photos.Remove(ctx, key)
		return nil, err
	}
	if current.PhotoKey != "" && current.PhotoKey != key {
		s.photos.Remove(ctx, current.PhotoKey)
	}
	s.audit(ctx, "clergy.photo_updated", session.UserName, "clergy", clergyID, map[string]any{"key": key})
	return s.photoURL(ctx, key)
}

func (s *Service) PhotoURL(ctx context.Context, clergyID string) (map[string]any, error) {
	if s.photos == nil {
		return nil, errPhotosUnavailable
	}
	item, err := s.store.GetClergy(ctx, clergyID)
	if err != nil {
		return nil, err
	}
	if item.PhotoKey == "" {
		return nil, errNoPhoto
	}
	return s.photoURL(ctx, item.PhotoKey)
}

func (s *Service) photoURL(ctx context.Context, key string) (map[string]any, error) {
	url, expires, err := s.photos.URL(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "url": url, "expiresAt": expires.UTC().Format(time.RFC3339)}, nil
}
