package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lineage/api/internal/store"
	"lineage/api/internal/util"
	"lineage/api/internal/validity"
)

type RecordInput struct {
	BishopID        string `json:"bishopId"`
	Date            string `json:"date"`
	Validity        string `json:"validity"`
	IsSubConditione bool   `json:"isSubConditione"`
	IsDoubtfulEvent bool   `json:"isDoubtfulEvent"`
	Notes           string `json:"notes"`
}

type ClergyInput struct {
	Name          string        `json:"name"`
	Rank          string        `json:"rank"`
	Church        string        `json:"church"`
	BirthDate     string        `json:"birthDate"`
	DeathDate     string        `json:"deathDate"`
	Notes         string        `json:"notes"`
	Ordinations   []RecordInput `json:"ordinations"`
	Consecrations []RecordInput `json:"consecrations"`
	// SkipBishopIDs lists officiants whose summaries are known to be stale
	// because they are being edited in the same batch.
	SkipBishopIDs []string `json:"skipBishopIds"`
}

type CheckFormInput struct {
	Entries       []validity.Entry `json:"entries"`
	SkipBishopIDs []string         `json:"skipBishopIds"`
}

var allowedRanks = map[string]struct{}{
	"":       {},
	"deacon": {},
	"priest": {},
	"bishop": {},
}

// fetchSummary is the engine's summary source: the bishop's own records,
// aggregated.
func (s *Service) fetchSummary(ctx context.Context, bishopID string) (validity.Summary, error) {
	if _, err := s.store.GetClergy(ctx, bishopID); err != nil {
		return validity.Summary{}, fmt.Errorf("bishop %s: %w", bishopID, err)
	}
	ords, cons, err := s.store.ClergyRecords(ctx, bishopID)
	if err != nil {
		return validity.Summary{}, fmt.Errorf("bishop records %s: %w", bishopID, err)
	}
	return validity.Summarize(store.Records(ords), store.Records(cons)), nil
}

// BishopValidity returns the summary other clients validate against. Unknown
// bishops are 404 rather than unrestricted.
func (s *Service) BishopValidity(ctx context.Context, bishopID string) (validity.Summary, error) {
	lookup := s.engine.Resolve(ctx, bishopID)
	if lookup.Err != nil {
		return validity.Summary{}, lookup.Err
	}
	return lookup.Summary, nil
}

// CheckForm applies officiant restrictions to a draft form and reports whether
// it may be submitted.
func (s *Service) CheckForm(ctx context.Context, input CheckFormInput) map[string]any {
	form := validity.Form{Entries: input.Entries}
	if form.Entries == nil {
		form.Entries = []validity.Entry{}
	}
	reset := s.engine.RefreshFormRestrictions(ctx, &form)
	status := s.engine.ValidateFormStatus(ctx, form.Entries, input.SkipBishopIDs)
	return map[string]any{
		"entries": form.Entries,
		"reset":   reset,
		"status":  status,
	}
}

// Roster lists every clergy member with a warning flag on those holding a
// record their officiant cannot confer.
func (s *Service) Roster(ctx context.Context, skipBishopIDs []string) (map[string]any, error) {
	items, err := s.store.ListClergy(ctx)
	if err != nil {
		return nil, err
	}
	roster := make([]validity.RosterEntry, len(items))
	for i, item := range items {
		roster[i] = validity.RosterEntry{
			ClergyID:      item.ID,
			Ordinations:   store.Records(item.Ordinations),
			Consecrations: store.Records(item.Consecrations),
		}
	}
	flagged := s.engine.FlagClergyListWithViolations(ctx, roster, skipBishopIDs)

	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		out = append(out, map[string]any{
			"id":                item.ID,
			"name":              item.Name,
			"rank":              item.Rank,
			"church":            item.Church,
			"birthDate":         item.BirthDate,
			"deathDate":         item.DeathDate,
			"ordinationCount":   len(item.Ordinations),
			"consecrationCount": len(item.Consecrations),
			"warning":           roster[i].Warning,
			"updatedAt":         item.UpdatedAt,
		})
	}
	return map[string]any{"clergy": out, "flagged": flagged}, nil
}

func (s *Service) GetClergy(ctx context.Context, clergyID string) (map[string]any, error) {
	item, err := s.store.GetClergy(ctx, clergyID)
	if err != nil {
		return nil, err
	}
	return clergyPayload(item), nil
}

func (s *Service) CreateClergy(ctx context.Context, session Session, input ClergyInput) (map[string]any, error) {
	item := store.Clergy{ID: util.NewID("clg"), UpdatedBy: session.UserName}
	if err := s.applyInput(ctx, &item, input); err != nil {
		return nil, err
	}
	if err := s.store.CreateClergy(ctx, item); err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, session, "clergy.created", item.ID)
}

func (s *Service) UpdateClergy(ctx context.Context, session Session, clergyID string, input ClergyInput) (map[string]any, error) {
	current, err := s.store.GetClergy(ctx, clergyID)
	if err != nil {
		return nil, err
	}
	item := store.Clergy{ID: current.ID, PhotoKey: current.PhotoKey, UpdatedBy: session.UserName}
	if err := s.applyInput(ctx, &item, input); err != nil {
		return nil, err
	}
	if err := s.store.UpdateClergy(ctx, item); err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, session, "clergy.updated", item.ID)
}

func (s *Service) DeleteClergy(ctx context.Context, session Session, clergyID string) error {
	current, err := s.store.GetClergy(ctx, clergyID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteClergy(ctx, clergyID); err != nil {
		return err
	}
	s.clearSummary(ctx, clergyID)
	if current.PhotoKey != "" && s.photos != nil {
		s.photos.Remove(ctx, current.PhotoKey)
	}
	if s.search != nil {
		s.search.DeleteClergy(clergyID)
	}
	s.audit(ctx, "clergy.deleted", session.UserName, "clergy", clergyID, map[string]any{"name": current.Name})
	return nil
}

// afterWrite drops the stale summary, reloads the stored row with officiant
// names, and records the change.
func (s *Service) afterWrite(ctx context.Context, session Session, eventType, clergyID string) (map[string]any, error) {
	s.clearSummary(ctx, clergyID)
	saved, err := s.store.GetClergy(ctx, clergyID)
	if err != nil {
		return nil, err
	}
	s.indexClergy(saved)
	s.audit(ctx, eventType, session.UserName, "clergy", clergyID, map[string]any{
		"name":          saved.Name,
		"ordinations":   len(saved.Ordinations),
		"consecrations": len(saved.Consecrations),
	})
	return clergyPayload(saved), nil
}

func (s *Service) clearSummary(ctx context.Context, clergyID string) {
	if err := s.engine.ClearSummaries(ctx, clergyID); err != nil {
		s.logger.Warn("bishop summary not invalidated", zap.String("clergy_id", clergyID), zap.Error(err))
	}
}

// applyInput validates input into item and blocks records whose status the
// officiant cannot confer.
func (s *Service) applyInput(ctx context.Context, item *store.Clergy, input ClergyInput) error {
	item.Name = strings.TrimSpace(input.Name)
	item.Rank = strings.ToLower(strings.TrimSpace(input.Rank))
	item.Church = strings.TrimSpace(input.Church)
	item.BirthDate = strings.TrimSpace(input.BirthDate)
	item.DeathDate = strings.TrimSpace(input.DeathDate)
	item.Notes = input.Notes
	if item.Name == "" {
		return validationError("name", "name is required")
	}
	if _, ok := allowedRanks[item.Rank]; !ok {
		return validationError("rank", "rank must be deacon, priest, or bishop")
	}

	names := map[string]string{}
	var entries []validity.Entry
	convert := func(kind validity.Kind, field string, inputs []RecordInput) ([]store.SacramentRecord, error) {
		out := make([]store.SacramentRecord, 0, len(inputs))
		for i, in := range inputs {
			raw := strings.TrimSpace(in.Validity)
			if raw == "" {
				raw = string(validity.ValidityValid)
			}
			v, err := validity.ParseValidity(raw)
			if err != nil {
				return nil, validationError(fmt.Sprintf("%s[%d].validity", field, i), "validity must be valid, doubtfully_valid, or invalid")
			}
			bishopID := strings.TrimSpace(in.BishopID)
			if bishopID != "" && bishopID == item.ID {
				return nil, validationError(fmt.Sprintf("%s[%d].bishopId", field, i), "a clergy member cannot be their own officiant")
			}
			if bishopID != "" {
				if _, seen := names[bishopID]; !seen {
					bishop, err := s.store.GetClergy(ctx, bishopID)
					if store.IsNotFound(err) {
						return nil, validationError(fmt.Sprintf("%s[%d].bishopId", field, i), "unknown officiant")
					}
					if err != nil {
						return nil, err
					}
					names[bishopID] = bishop.Name
				}
			}
			record := store.SacramentRecord{
				BishopID:        bishopID,
				BishopName:      names[bishopID],
				Date:            strings.TrimSpace(in.Date),
				Validity:        string(v),
				IsSubConditione: in.IsSubConditione,
				IsDoubtfulEvent: in.IsDoubtfulEvent,
				Notes:           in.Notes,
			}
			out = append(out, record)
			entries = append(entries, validity.Entry{
				Kind:          kind,
				Validity:      v,
				SubConditione: record.IsSubConditione,
				DoubtfulEvent: record.IsDoubtfulEvent,
				BishopID:      record.BishopID,
				BishopName:    record.BishopName,
			})
		}
		return out, nil
	}

	var err error
	if item.Ordinations, err = convert(validity.KindOrdination, "ordinations", input.Ordinations); err != nil {
		return err
	}
	if item.Consecrations, err = convert(validity.KindConsecration, "consecrations", input.Consecrations); err != nil {
		return err
	}

	status := s.engine.ValidateFormStatus(ctx, entries, input.SkipBishopIDs)
	if !status.Valid {
		return statusInheritanceError(status)
	}
	return nil
}

func clergyPayload(item store.Clergy) map[string]any {
	return map[string]any{
		"id":            item.ID,
		"name":          item.Name,
		"rank":          item.Rank,
		"church":        item.Church,
		"birthDate":     item.BirthDate,
		"deathDate":     item.DeathDate,
		"notes":         item.Notes,
		"hasPhoto":      item.PhotoKey != "",
		"updatedBy":     item.UpdatedBy,
		"createdAt":     item.CreatedAt,
		"updatedAt":     item.UpdatedAt,
		"ordinations":   recordPayloads(item.Ordinations),
		"consecrations": recordPayloads(item.Consecrations),
	}
}

func recordPayloads(items []store.SacramentRecord) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		rec := item.Record()
		out = append(out, map[string]any{
			"id":              item.ID,
			"bishopId":        item.BishopID,
			"bishopName":      item.BishopName,
			"date":            item.Date,
			"validity":        item.Validity,
			"isSubConditione": item.IsSubConditione,
			"isDoubtfulEvent": item.IsDoubtfulEvent,
			"notes":           item.Notes,
			"effectiveStatus": validity.EffectiveStatus(&rec),
		})
	}
	return out
}
