package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCriterion = errors.New("invalid eligibility criterion")

type CriterionType string

const (
	CriterionZipCode       CriterionType = "zipCode"
	CriterionIncome        CriterionType = "income"
	CriterionHouseholdSize CriterionType = "householdSize"
	CriterionDisasterEvent CriterionType = "disasterEvent"
	CriterionCustom        CriterionType = "custom"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Criterion is one eligibility rule. The set of implementations is closed:
// ZipCodeCriterion, IncomeCriterion, HouseholdSizeCriterion,
// DisasterEventCriterion and CustomCriterion.
type Criterion interface {
	Type() CriterionType
	criterion()
}

type ZipCodeCriterion struct {
	Ranges []Range
}

type IncomeCriterion struct {
	Ranges []Range
}

type HouseholdSizeCriterion struct {
	Ranges []Range
}

type DisasterEventCriterion struct {
	Events []string
}

// CustomCriterion matches survivor qualifying tags of the form "key:value".
type CustomCriterion struct {
	Key    string
	Values []string
}

func (ZipCodeCriterion) Type() CriterionType       { return CriterionZipCode }
func (IncomeCriterion) Type() CriterionType        { return CriterionIncome }
func (HouseholdSizeCriterion) Type() CriterionType { return CriterionHouseholdSize }
func (DisasterEventCriterion) Type() CriterionType { return CriterionDisasterEvent }
func (CustomCriterion) Type() CriterionType        { return CriterionCustom }

func (ZipCodeCriterion) criterion()       {}
func (IncomeCriterion) criterion()        {}
func (HouseholdSizeCriterion) criterion() {}
func (DisasterEventCriterion) criterion() {}
func (CustomCriterion) criterion()        {}

// Criteria is the ordered list of rules attached to an opportunity. It is stored
// as a JSON array of type-discriminated objects.
type Criteria []Criterion

type criterionWire struct {
	Type   CriterionType `json:"type"`
	Ranges []Range       `json:"ranges,omitempty"`
	Events []string      `json:"events,omitempty"`
	Key    string        `json:"key,omitempty"`
	Values []string      `json:"values,omitempty"`
}

func (c Criteria) MarshalJSON() ([]byte, error) {
	out := make([]criterionWire, 0, len(c))
	for _, item := range c {
		switch v := item.(type) {
		case ZipCodeCriterion:
			out = append(out, criterionWire{Type: CriterionZipCode, Ranges: v.Ranges})
		case IncomeCriterion:
			out = append(out, criterionWire{Type: CriterionIncome, Ranges: v.Ranges})
		case HouseholdSizeCriterion:
			out = append(out, criterionWire{Type: CriterionHouseholdSize, Ranges: v.Ranges})
		case DisasterEventCriterion:
			out = append(out, criterionWire{Type: CriterionDisasterEvent, Events: v.Events})
		case CustomCriterion:
			out = append(out, criterionWire{Type: CriterionCustom, Key: v.Key, Values: v.Values})
		default:
			return nil, fmt.Errorf("%w: unsupported criterion %T", ErrInvalidCriterion, item)
		}
	}
	return json.Marshal(out)
}

func (c *Criteria) UnmarshalJSON(data []byte) error {
	var raw []criterionWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCriterion, err)
	}

	parsed := make(Criteria, 0, len(raw))
	for i, w := range raw {
		item, err := w.decode()
		if err != nil {
			return fmt.Errorf("criterion %d: %w", i, err)
		}
		parsed = append(parsed, item)
	}
	*c = parsed
	return nil
}

// ParseCriteria decodes a stored criteria blob. An empty or null blob yields an
// empty list.
func ParseCriteria(data []byte) (Criteria, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return Criteria{}, nil
	}
	var c Criteria
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
		return nil, err
	}
	return c, nil
}

func (w criterionWire) decode() (Criterion, error) {
	switch w.Type {
	case CriterionZipCode:
		if err := validateRanges(w.Ranges); err != nil {
			return nil, err
		}
		return ZipCodeCriterion{Ranges: w.Ranges}, nil
	case CriterionIncome:
		if err := validateRanges(w.Ranges); err != nil {
			return nil, err
		}
		return IncomeCriterion{Ranges: w.Ranges}, nil
	case CriterionHouseholdSize:
		if err := validateRanges(w.Ranges); err != nil {
			return nil, err
		}
		return HouseholdSizeCriterion{Ranges: w.Ranges}, nil
	case CriterionDisasterEvent:
		events := cleanList(w.Events)
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: disasterEvent requires at least one event", ErrInvalidCriterion)
		}
		return DisasterEventCriterion{Events: events}, nil
	case CriterionCustom:
		key := strings.TrimSpace(w.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: custom criterion requires a key", ErrInvalidCriterion)
		}
		values := cleanList(w.Values)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: custom criterion %q requires at least one value", ErrInvalidCriterion, key)
		}
		return CustomCriterion{Key: key, Values: values}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidCriterion)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCriterion, w.Type)
	}
}

func validateRanges(ranges []Range) error {
	if len(ranges) == 0 {
		return fmt.Errorf("%w: at least one range is required", ErrInvalidCriterion)
	}
	for _, r := range ranges {
		if r.Min > r.Max {
			return fmt.Errorf("%w: range min %v exceeds max %v", ErrInvalidCriterion, r.Min, r.Max)
		}
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
