package feishusdk

import (
	"encoding/json"
	"net/url"
	"strings"

	bitablev1 "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
)

// FilterInfo aliases the Feishu SDK filter structure so callers don't have to import the SDK directly.
type (
	FilterInfo = bitablev1.FilterInfo
	Condition  = bitablev1.Condition
)

func newStringPtr(val string) *string {
	v := val
	return &v
}

// NewFilterInfo constructs a filter with the provided conjunction (defaults to "and").
func NewFilterInfo(conjunction string, conds ...*Condition) *FilterInfo {
	if strings.TrimSpace(conjunction) == "" {
		conjunction = "and"
	}
	filter := &FilterInfo{Conjunction: newStringPtr(strings.ToLower(conjunction))}
	for _, cond := range conds {
		if cond == nil {
			continue
		}
		filter.Conditions = append(filter.Conditions, cond)
	}
	return filter
}

// NewCondition creates a Condition node with the provided operator and values.
func NewCondition(field, operator string, values ...string) *Condition {
	fieldName := strings.TrimSpace(field)
	if fieldName == "" {
		return nil
	}
	op := strings.TrimSpace(operator)
	if op == "" {
		op = "is"
	}
	cond := &Condition{FieldName: newStringPtr(fieldName), Operator: newStringPtr(op)}
	if len(values) > 0 {
		cond.Value = append([]string(nil), values...)
		return cond
	}
	// Feishu Bitable filter conditions require a Value field even for certain
	// unary operators (e.g. isNotEmpty/isEmpty). Provide an explicit empty
	// value to avoid 400 responses like "Missing required parameter: Value".
	switch strings.ToLower(op) {
	case "isnotempty", "isempty":
		cond.Value = []string{""}
	}
	return cond
}

// NewEqualsFilter matches rows whose field equals value exactly.
func NewEqualsFilter(field, value string) *FilterInfo {
	return NewFilterInfo("and", NewCondition(field, "is", value))
}

// FilterJSON serializes filter, returning "" for nil.
func FilterJSON(filter *FilterInfo) string {
	if filter == nil {
		return ""
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return ""
	}
	return string(raw)
}

// encodeQueryComponent percent-encodes s for a query value, spaces as %20.
func encodeQueryComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
