package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"lineage/api/internal/store"
	"lineage/api/internal/validity"
	"lineage/api/internal/wiki"
)

// Source supplies the record, the wiki page names for note links, and the
// rendered lineage chart.
type Source interface {
	GetClergy(ctx context.Context, id string) (store.Clergy, error)
	WikiTitles(ctx context.Context) ([]string, error)
	LineageSVG(ctx context.Context, clergyID string) (string, error)
}

type converter func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
	pdf    converter
	docx   converter
}

func NewService(source Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source: source,
		logger: logger,
		now:    time.Now,
		pdf:    exportPDF,
		docx:   exportDOCX,
	}
}

// Export renders the record sheet for req.ClergyID in req.Format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	clergy, err := s.source.GetClergy(ctx, req.ClergyID)
	if err != nil {
		return nil, fmt.Errorf("get clergy: %w", err)
	}

	data := SheetData{
		Name:          clergy.Name,
		Rank:          clergy.Rank,
		Church:        clergy.Church,
		BirthDate:     clergy.BirthDate,
		DeathDate:     clergy.DeathDate,
		Ordinations:   sheetRecords(clergy.Ordinations),
		Consecrations: sheetRecords(clergy.Consecrations),
		GeneratedAt:   s.now().UTC(),
	}

	if strings.TrimSpace(clergy.Notes) != "" {
		titles, err := s.source.WikiTitles(ctx)
		if err != nil {
			s.logger.Warn("export: wiki titles unavailable", zap.Error(err))
		}
		data.NotesHTML = template.HTML(wiki.Render(clergy.Notes, wiki.Options{Pages: wiki.NewPageSet(titles...)}))
	}

	svg, err := s.source.LineageSVG(ctx, req.ClergyID)
	if err != nil {
		s.logger.Warn("export: lineage chart unavailable", zap.String("clergy_id", req.ClergyID), zap.Error(err))
	} else {
		data.LineageSVG = template.HTML(svg)
	}

	html, err := RenderSheetHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(clergy.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, clergy.Name)
	case FormatDOCX:
		return s.docx(ctx, html, clergy.Name)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func sheetRecords(items []store.SacramentRecord) []SheetRecord {
	out := make([]SheetRecord, 0, len(items))
	for _, item := range items {
		rec := item.Record()
		var flags []string
		if rec.IsSubConditione {
			flags = append(flags, "sub conditione")
		}
		if rec.IsDoubtfulEvent {
			flags = append(flags, "doubtful event")
		}
		bishop := item.BishopName
		if bishop == "" {
			bishop = "Unknown"
		}
		out = append(out, SheetRecord{
			Bishop: bishop,
			Date:   item.Date,
			Status: validity.EffectiveStatus(&rec),
			Flags:  strings.Join(flags, ", "),
			Notes:  item.Notes,
		})
	}
	return out
}
