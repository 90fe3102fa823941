package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestValidateCell_Required(t *testing.T) {
	v := NewValidator()
	rules := []Rule{{Type: RuleRequired}}

	result := v.ValidateCell("name", nil, rules)
	assert.False(t, result.Valid)
	assert.Equal(t, SeverityError, result.Severity)

	result = v.ValidateCell("name", "   ", rules)
	assert.False(t, result.Valid)

	result = v.ValidateCell("name", "ok", rules)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Messages)
}

func TestValidateCell_NullSkipsNonRequiredRules(t *testing.T) {
	v := NewValidator()
	rules := []Rule{
		{Type: RuleGreaterThan, Value: 0},
		{Type: RuleRegex, Pattern: `\d+`},
	}
	result := v.ValidateCell("amount", nil, rules)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Messages)
}

func TestValidateCell_NumericBounds(t *testing.T) {
	v := NewValidator()

	result := v.ValidateCell("amount", 5, []Rule{{Type: RuleGreaterThan, Value: 10}})
	require.Len(t, result.Messages, 1)
	assert.Equal(t, SeverityError, result.Messages[0].Severity)
	assert.False(t, result.Valid)

	result = v.ValidateCell("amount", 5, []Rule{{Type: RuleLessThan, Value: 10}})
	assert.True(t, result.Valid)

	result = v.ValidateCell("amount", 15, []Rule{{Type: RuleBetween, Min: f(0), Max: f(10)}})
	assert.False(t, result.Valid)

	// Inclusive bounds.
	result = v.ValidateCell("amount", 10, []Rule{{Type: RuleRange, Min: f(0), Max: f(10)}})
	assert.True(t, result.Valid)

	// Strict inequality.
	result = v.ValidateCell("amount", 10, []Rule{{Type: RuleGreaterThan, Value: 10}})
	assert.False(t, result.Valid)

	// Numeric strings are accepted.
	result = v.ValidateCell("amount", "42", []Rule{{Type: RuleGreaterThan, Value: 10}})
	assert.True(t, result.Valid)
}

func TestValidateCell_Equals(t *testing.T) {
	v := NewValidator()
	assert.True(t, v.ValidateCell("n", 2, []Rule{{Type: RuleEquals, Value: 2.0}}).Valid)
	assert.True(t, v.ValidateCell("s", "x", []Rule{{Type: RuleEquals, Value: "x"}}).Valid)
	assert.False(t, v.ValidateCell("s", "y", []Rule{{Type: RuleEquals, Value: "x"}}).Valid)
}

func TestValidateCell_NotContains(t *testing.T) {
	v := NewValidator()
	rules := []Rule{{Type: RuleNotContains, Values: []interface{}{"Secret", "forbidden"}}}

	result := v.ValidateCell("text", "top SECRET data", rules)
	assert.False(t, result.Valid)

	result = v.ValidateCell("text", "plain data", rules)
	assert.True(t, result.Valid)
}

func TestValidateCell_Regex(t *testing.T) {
	v := NewValidator()
	rules := []Rule{{Type: RuleRegex, Pattern: `[a-z]+\d{2}`}}

	// Full-string match, not substring.
	assert.True(t, v.ValidateCell("code", "ab12", rules).Valid)
	assert.False(t, v.ValidateCell("code", "xx ab12 yy", rules).Valid)

	// Invalid patterns are skipped.
	assert.True(t, v.ValidateCell("code", "anything", []Rule{{Type: RuleRegex, Pattern: `([`}}).Valid)
}

func TestValidateCell_AllowedValuesDefaultsToWarning(t *testing.T) {
	v := NewValidator()
	rules := []Rule{{Type: RuleAllowedValues, Values: []interface{}{"pending", "approved"}}}

	result := v.ValidateCell("status", "rejected", rules)
	// A warning does not make the edit invalid.
	assert.True(t, result.Valid)
	assert.Equal(t, SeverityWarning, result.Severity)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, RuleAllowedValues, result.Messages[0].RuleType)
}

func TestValidateCell_ConfiguredSeverityWins(t *testing.T) {
	v := NewValidator()
	rules := []Rule{{Type: RuleAllowedValues, Values: []interface{}{"a"}, Severity: SeverityFatal}}
	result := v.ValidateCell("status", "b", rules)
	assert.False(t, result.Valid)
	assert.Equal(t, SeverityFatal, result.Severity)
}

func TestValidateRows_UniqueAndCounts(t *testing.T) {
	v := NewValidator()
	rows := []map[string]interface{}{
		{"id": 1, "status": "pending"},
		{"id": 2, "status": "bogus"},
		{"id": 1, "status": "approved"},
		{"id": nil, "status": "approved"},
	}
	rules := []Rule{
		{Type: RuleUnique, Column: "id"},
		{Type: RuleRequired, Column: "id"},
		{Type: RuleAllowedValues, Column: "status", Values: []interface{}{"pending", "approved"}},
	}

	result := v.ValidateRows(rows, rules)
	// One duplicate id (error), one missing id (error), one bad status
	// (warning).
	assert.Equal(t, 2, result.Counts.Error)
	assert.Equal(t, 1, result.Counts.Warning)
	assert.Equal(t, StateFailed, result.State)
	assert.False(t, result.CanProceed)

	var duplicate *Message
	for i := range result.Messages {
		if result.Messages[i].RuleType == RuleUnique {
			duplicate = &result.Messages[i]
		}
	}
	require.NotNil(t, duplicate)
	require.NotNil(t, duplicate.RowIndex)
	assert.Equal(t, 2, *duplicate.RowIndex)
}

func TestValidateRows_ReadonlyIsAdvisory(t *testing.T) {
	v := NewValidator()
	rows := []map[string]interface{}{{"locked": "changed"}}
	result := v.ValidateRows(rows, []Rule{{Type: RuleReadonly, Column: "locked"}})
	assert.Equal(t, StatePassed, result.State)
	assert.Empty(t, result.Messages)
}

func TestValidateRows_CleanRun(t *testing.T) {
	v := NewValidator()
	rows := []map[string]interface{}{{"id": 1}, {"id": 2}}
	result := v.ValidateRows(rows, []Rule{{Type: RuleUnique, Column: "id"}, {Type: RuleRequired, Column: "id"}})
	assert.Equal(t, StatePassed, result.State)
	assert.True(t, result.CanProceed)
	assert.NotEmpty(t, result.RunID)

	summary := result.Summary()
	assert.Equal(t, StatePassed, summary.State)
}
