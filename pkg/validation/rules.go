package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validator evaluates business rules against cells and row batches.
type Validator struct{}

// NewValidator creates a rule-engine validator.
func NewValidator() *Validator { return &Validator{} }

// severityFor resolves a rule's effective severity: the configured one,
// else warning for allowed_values/ref_in membership and error for everything
// else.
func severityFor(rule Rule) Severity {
	if rule.Severity != "" {
		return rule.Severity
	}
	if rule.Type == RuleAllowedValues || rule.Type == RuleRefIn {
		return SeverityWarning
	}
	return SeverityError
}

// ValidateCell checks one value against the rules configured for a column.
// Null values on non-required columns skip every other rule.
func (v *Validator) ValidateCell(column string, value interface{}, rules []Rule) *CellResult {
	var messages []Message
	for _, rule := range rules {
		if rule.Column != "" && rule.Column != column {
			continue
		}
		if (value == nil || isBlank(value)) && rule.Type != RuleRequired {
			// Nothing beyond required applies to an absent value.
			continue
		}
		if msg := v.checkValue(column, value, rule); msg != nil {
			messages = append(messages, *msg)
		}
	}

	result := &CellResult{Valid: true, Severity: SeverityInfo, Column: column, Messages: messages}
	for _, msg := range messages {
		if rank(msg.Severity) > rank(result.Severity) {
			result.Severity = msg.Severity
		}
	}
	if result.Severity == SeverityError || result.Severity == SeverityFatal {
		result.Valid = false
	}
	return result
}

// ValidateRows checks a row batch against the full rule set and returns a
// run result with per-row messages, counts and the resolved state.
func (v *Validator) ValidateRows(rows []map[string]interface{}, rules []Rule) *Result {
	var messages []Message

	for _, rule := range rules {
		switch rule.Type {
		case RuleReadonly:
			// Advisory; enforced at the edit boundary.
			continue
		case RuleUnique:
			messages = append(messages, v.checkUnique(rows, rule)...)
		default:
			for i, row := range rows {
				idx := i
				if msg := v.checkValue(rule.Column, row[rule.Column], rule); msg != nil {
					msg.RowIndex = &idx
					messages = append(messages, *msg)
				}
			}
		}
	}

	var counts Counts
	for _, msg := range messages {
		counts.Add(msg.Severity)
	}
	state := Resolve(counts)
	return &Result{
		State:      state,
		Counts:     counts,
		Messages:   messages,
		CanProceed: CanProceed(state),
		RunID:      "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Timestamp:  time.Now().UTC(),
	}
}

// checkUnique flags every row whose value reoccurs in the named column.
func (v *Validator) checkUnique(rows []map[string]interface{}, rule Rule) []Message {
	sev := severityFor(rule)
	firstSeen := map[string]int{}
	var messages []Message
	for i, row := range rows {
		val := row[rule.Column]
		if val == nil {
			continue
		}
		key := fmt.Sprintf("%v", val)
		if _, dup := firstSeen[key]; dup {
			idx := i
			messages = append(messages, Message{
				Column:   rule.Column,
				RowIndex: &idx,
				Severity: sev,
				RuleType: RuleUnique,
				Message:  fmt.Sprintf("'%s' must have unique values", rule.Column),
				Actual:   val,
			})
			continue
		}
		firstSeen[key] = i
	}
	return messages
}

// checkValue evaluates a single-value rule. Returns nil when the value
// passes.
func (v *Validator) checkValue(column string, value interface{}, rule Rule) *Message {
	sev := severityFor(rule)

	if rule.Type == RuleRequired {
		if value == nil || isBlank(value) {
			return &Message{
				Column:   column,
				Severity: sev,
				RuleType: RuleRequired,
				Message:  fmt.Sprintf("'%s' is required", column),
			}
		}
		return nil
	}

	// Null values on non-required columns skip further validation.
	if value == nil || isBlank(value) {
		return nil
	}

	switch rule.Type {
	case RuleGreaterThan:
		threshold, ok := asFloat(rule.Value)
		if !ok {
			return nil
		}
		num, ok := asFloat(value)
		if !ok {
			return numericTypeMessage(column, rule.Type, sev, value)
		}
		if !(num > threshold) {
			return &Message{
				Column: column, Severity: sev, RuleType: rule.Type,
				Message:  fmt.Sprintf("'%s' must be greater than %v", column, rule.Value),
				Expected: rule.Value, Actual: value,
			}
		}

	case RuleLessThan:
		threshold, ok := asFloat(rule.Value)
		if !ok {
			return nil
		}
		num, ok := asFloat(value)
		if !ok {
			return numericTypeMessage(column, rule.Type, sev, value)
		}
		if !(num < threshold) {
			return &Message{
				Column: column, Severity: sev, RuleType: rule.Type,
				Message:  fmt.Sprintf("'%s' must be less than %v", column, rule.Value),
				Expected: rule.Value, Actual: value,
			}
		}

	case RuleBetween, RuleRange:
		num, ok := asFloat(value)
		if !ok {
			return numericTypeMessage(column, rule.Type, sev, value)
		}
		if rule.Min != nil && num < *rule.Min || rule.Max != nil && num > *rule.Max {
			return &Message{
				Column: column, Severity: sev, RuleType: RuleBetween,
				Message:  fmt.Sprintf("'%s' must be between %v and %v", column, deref(rule.Min), deref(rule.Max)),
				Expected: map[string]interface{}{"min": deref(rule.Min), "max": deref(rule.Max)},
				Actual:   value,
			}
		}

	case RuleEquals:
		if !equalTyped(value, rule.Value) {
			return &Message{
				Column: column, Severity: sev, RuleType: rule.Type,
				Message:  fmt.Sprintf("'%s' must equal %v", column, rule.Value),
				Expected: rule.Value, Actual: value,
			}
		}

	case RuleNotContains:
		forbidden := rule.Values
		if len(forbidden) == 0 && rule.Value != nil {
			forbidden = []interface{}{rule.Value}
		}
		haystack := strings.ToLower(fmt.Sprintf("%v", value))
		for _, f := range forbidden {
			needle := strings.ToLower(fmt.Sprintf("%v", f))
			if needle != "" && strings.Contains(haystack, needle) {
				return &Message{
					Column: column, Severity: sev, RuleType: rule.Type,
					Message:  fmt.Sprintf("'%s' must not contain %q", column, f),
					Expected: f, Actual: value,
				}
			}
		}

	case RuleRegex:
		if rule.Pattern == "" {
			return nil
		}
		re, err := regexp.Compile("^(?:" + rule.Pattern + ")$")
		if err != nil {
			// Invalid pattern: skip, matching the original behaviour.
			return nil
		}
		if !re.MatchString(fmt.Sprintf("%v", value)) {
			return &Message{
				Column: column, Severity: sev, RuleType: rule.Type,
				Message:  fmt.Sprintf("'%s' does not match required pattern", column),
				Expected: rule.Pattern, Actual: value,
			}
		}

	case RuleAllowedValues, RuleRefIn:
		for _, allowed := range rule.Values {
			if equalTyped(value, allowed) {
				return nil
			}
		}
		return &Message{
			Column: column, Severity: sev, RuleType: RuleAllowedValues,
			Message:  fmt.Sprintf("'%s' has a value outside the allowed set", column),
			Expected: rule.Values, Actual: value,
		}
	}

	return nil
}

func numericTypeMessage(column, ruleType string, sev Severity, value interface{}) *Message {
	return &Message{
		Column: column, Severity: sev, RuleType: ruleType,
		Message: fmt.Sprintf("'%s' must be numeric", column),
		Actual:  value,
	}
}

func isBlank(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// equalTyped compares scalars across numeric representations; everything
// else falls back to string equality.
func equalTyped(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func rank(s Severity) int {
	switch s {
	case SeverityFatal:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

func deref(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
