package validity

import (
	"encoding/json"
)

// Summary aggregates one bishop's own ordination and consecration history.
type Summary struct {
	HasValidOrdination      bool   `json:"has_valid_ordination"`
	HasValidConsecration    bool   `json:"has_valid_consecration"`
	WorstOrdinationStatus   Status `json:"worst_ordination_status"`
	WorstConsecrationStatus Status `json:"worst_consecration_status"`
}

// UnmarshalJSON normalises missing or unknown worst statuses to invalid.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw struct {
		HasValidOrdination      bool   `json:"has_valid_ordination"`
		HasValidConsecration    bool   `json:"has_valid_consecration"`
		WorstOrdinationStatus   string `json:"worst_ordination_status"`
		WorstConsecrationStatus string `json:"worst_consecration_status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Summary{
		HasValidOrdination:      raw.HasValidOrdination,
		HasValidConsecration:    raw.HasValidConsecration,
		WorstOrdinationStatus:   ParseStatus(raw.WorstOrdinationStatus),
		WorstConsecrationStatus: ParseStatus(raw.WorstConsecrationStatus),
	}
	return nil
}

// mapWorstToAllowed collapses a bishop's worst status to the statuses they can
// confer.
func mapWorstToAllowed(worst Status) StatusSet {
	switch worst {
	case StatusInvalid:
		return NewStatusSet(StatusInvalid)
	case StatusDoubtfullyValid, StatusDoubtfulEvent:
		return NewStatusSet(StatusDoubtfullyValid)
	case StatusSubConditione, StatusValid:
		return AllStatusSet
	default:
		return NewStatusSet(StatusInvalid)
	}
}

// AllowedEffectiveStatuses returns the statuses a record of the given kind may
// take when performed by the summarised bishop. A nil summary is unrestricted.
func AllowedEffectiveStatuses(summary *Summary, kind Kind) StatusSet {
	if summary == nil {
		return AllStatusSet
	}
	switch kind {
	case KindConsecration:
		if summary.HasValidOrdination && summary.HasValidConsecration {
			return AllStatusSet
		}
		return mapWorstToAllowed(summary.WorstConsecrationStatus)
	default:
		if summary.HasValidOrdination {
			return AllStatusSet
		}
		return mapWorstToAllowed(summary.WorstOrdinationStatus)
	}
}

func AllowedOrdinationStatuses(summary *Summary) StatusSet {
	return AllowedEffectiveStatuses(summary, KindOrdination)
}

func AllowedConsecrationStatuses(summary *Summary) StatusSet {
	return AllowedEffectiveStatuses(summary, KindConsecration)
}

// AllowedValidityValues projects effective statuses onto the stored validity
// values.
func AllowedValidityValues(allowed StatusSet) ValiditySet {
	var values []Validity
	for _, s := range allowed.Slice() {
		switch s {
		case StatusInvalid:
			values = append(values, ValidityInvalid)
		case StatusDoubtfullyValid:
			values = append(values, ValidityDoubtfullyValid)
		default:
			values = append(values, ValidityValid)
		}
	}
	return NewValiditySet(values...)
}

// IsRecordAllowed reports whether the record's effective status is one the
// bishop can confer.
func IsRecordAllowed(record *Record, summary *Summary, kind Kind) bool {
	return AllowedEffectiveStatuses(summary, kind).Has(EffectiveStatus(record))
}

func IsOrdinationStatusAllowed(record *Record, summary *Summary) bool {
	return IsRecordAllowed(record, summary, KindOrdination)
}

func IsConsecrationStatusAllowed(record *Record, summary *Summary) bool {
	return IsRecordAllowed(record, summary, KindConsecration)
}

// Summarize aggregates a bishop's own records. Missing records leave the
// corresponding worst status at invalid.
func Summarize(ordinations, consecrations []Record) Summary {
	hasValidOrd, worstOrd := aggregate(ordinations)
	hasValidCons, worstCons := aggregate(consecrations)
	return Summary{
		HasValidOrdination:      hasValidOrd,
		HasValidConsecration:    hasValidCons,
		WorstOrdinationStatus:   worstOrd,
		WorstConsecrationStatus: worstCons,
	}
}

func aggregate(records []Record) (bool, Status) {
	hasValid := false
	statuses := make([]Status, 0, len(records))
	for i := range records {
		s := EffectiveStatus(&records[i])
		if s == StatusValid || s == StatusSubConditione {
			hasValid = true
		}
		statuses = append(statuses, s)
	}
	return hasValid, WorstOf(statuses...)
}
