// Package validity evaluates status inheritance for ordination and consecration
// records: the effective status of a single record, the statuses a bishop can
// confer given their own history, and the form and roster adapters that apply
// those restrictions.
package validity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validity is the stored three-valued classification edited by users.
type Validity string

const (
	ValidityValid           Validity = "valid"
	ValidityDoubtfullyValid Validity = "doubtfully_valid"
	ValidityInvalid         Validity = "invalid"
)

// ValidityOptions is the fixed option order of a validity selector.
var ValidityOptions = []Validity{ValidityValid, ValidityDoubtfullyValid, ValidityInvalid}

// ParseValidity normalises a stored value. Empty input is treated as valid.
func ParseValidity(value string) (Validity, error) {
	switch v := Validity(strings.ToLower(strings.TrimSpace(value))); v {
	case "":
		return ValidityValid, nil
	case ValidityValid, ValidityDoubtfullyValid, ValidityInvalid:
		return v, nil
	default:
		return "", fmt.Errorf("unknown validity %q", value)
	}
}

// Status is the derived effective status of one record.
type Status string

const (
	StatusValid           Status = "valid"
	StatusSubConditione   Status = "sub_conditione"
	StatusDoubtfulEvent   Status = "doubtful_event"
	StatusDoubtfullyValid Status = "doubtfully_valid"
	StatusInvalid         Status = "invalid"
)

// AllStatuses lists every effective status from least to most severe.
var AllStatuses = []Status{
	StatusValid,
	StatusSubConditione,
	StatusDoubtfulEvent,
	StatusDoubtfullyValid,
	StatusInvalid,
}

// Severity orders statuses; higher is worse. Unknown statuses return -1.
func (s Status) Severity() int {
	for i, candidate := range AllStatuses {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Known reports whether s is one of the five effective statuses.
func (s Status) Known() bool {
	return s.Severity() >= 0
}

// ParseStatus normalises a status string, mapping unknown or empty input to
// invalid.
func ParseStatus(value string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Known() {
		return StatusInvalid
	}
	return s
}

// Kind distinguishes ordinations from consecrations.
type Kind string

const (
	KindOrdination   Kind = "ordination"
	KindConsecration Kind = "consecration"
)

// Record is the data an effective status is derived from. BishopID is empty
// when no officiant is recorded.
type Record struct {
	Validity        Validity `json:"validity"`
	IsSubConditione bool     `json:"isSubConditione"`
	IsDoubtfulEvent bool     `json:"isDoubtfulEvent"`
	BishopID        string   `json:"bishopId,omitempty"`
	BishopName      string   `json:"bishopName,omitempty"`
}

// IsInvalid is derived from the effective status.
func (r *Record) IsInvalid() bool {
	return EffectiveStatus(r) == StatusInvalid
}

// IsDoubtfullyValid is derived from the effective status.
func (r *Record) IsDoubtfullyValid() bool {
	return EffectiveStatus(r) == StatusDoubtfullyValid
}

// EffectiveStatus applies the precedence invalid, doubtfully valid, doubtful
// event, sub conditione, valid. A nil record is valid.
func EffectiveStatus(r *Record) Status {
	if r == nil {
		return StatusValid
	}
	switch {
	case r.Validity == ValidityInvalid:
		return StatusInvalid
	case r.Validity == ValidityDoubtfullyValid:
		return StatusDoubtfullyValid
	case r.IsDoubtfulEvent:
		return StatusDoubtfulEvent
	case r.IsSubConditione:
		return StatusSubConditione
	default:
		return StatusValid
	}
}

// WorstOf returns the most severe status. An empty input is invalid: no
// evidence is treated as the worst case.
func WorstOf(statuses ...Status) Status {
	worst := Status("")
	for _, s := range statuses {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}
	if worst == "" {
		return StatusInvalid
	}
	return worst
}

// StatusSet is an ordered set of effective statuses.
type StatusSet uint8

// AllStatusSet allows every effective status.
var AllStatusSet = NewStatusSet(AllStatuses...)

func NewStatusSet(statuses ...Status) StatusSet {
	var set StatusSet
	for _, s := range statuses {
		set = set.With(s)
	}
	return set
}

func (set StatusSet) With(s Status) StatusSet {
	if idx := s.Severity(); idx >= 0 {
		return set | 1<<idx
	}
	return set
}

func (set StatusSet) Has(s Status) bool {
	idx := s.Severity()
	return idx >= 0 && set&(1<<idx) != 0
}

// Slice lists members from least to most severe.
func (set StatusSet) Slice() []Status {
	out := make([]Status, 0, len(AllStatuses))
	for _, s := range AllStatuses {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (set StatusSet) Len() int {
	return len(set.Slice())
}

func (set StatusSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Slice())
}

func (set *StatusSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*set = 0
	for _, v := range values {
		s := Status(v)
		if !s.Known() {
			return fmt.Errorf("unknown status %q", v)
		}
		*set = set.With(s)
	}
	return nil
}

// ValiditySet is an ordered set of stored validity values.
type ValiditySet uint8

func validityIndex(v Validity) int {
	for i, candidate := range ValidityOptions {
		if candidate == v {
			return i
		}
	}
	return -1
}

func NewValiditySet(values ...Validity) ValiditySet {
	var set ValiditySet
	for _, v := range values {
		if idx := validityIndex(v); idx >= 0 {
			set |= 1 << idx
		}
	}
	return set
}

func (set ValiditySet) Has(v Validity) bool {
	idx := validityIndex(v)
	return idx >= 0 && set&(1<<idx) != 0
}

// Slice lists members in selector option order.
func (set ValiditySet) Slice() []Validity {
	out := make([]Validity, 0, len(ValidityOptions))
	for _, v := range ValidityOptions {
		if set.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

func (set ValiditySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Slice())
}
