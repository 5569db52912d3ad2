package internal

import (
	"log"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
)

// FilterEngine evaluates the configured filter rules against inbound events.
// A matching rule means the event is skipped before any job matching runs,
// e.g. to drop work-in-progress merge requests or bot pushes.
type FilterEngine struct {
	rules  []compiledFilter
	strict bool
	logger *log.Logger
}

type compiledFilter struct {
	reason string
	// exactly one of expr / path is set
	expr *govaluate.EvaluableExpression
	path string
}

// NewFilterEngine compiles the filter rules. A rule whose `when` starts with
// "$." is a JSONPath query over the raw payload and matches on a true or
// non-empty result; anything else is a govaluate expression over the
// flattened payload (dotted keys are addressed with [bracket] escapes).
func NewFilterEngine(filters []Filter, strict bool, logger *log.Logger) (*FilterEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	rules := make([]compiledFilter, 0, len(filters))
	for _, filter := range filters {
		reason := filter.Reason
		if reason == "" {
			reason = "filtered by rule: " + filter.When
		}
		if strings.HasPrefix(filter.When, "$.") {
			rules = append(rules, compiledFilter{reason: reason, path: filter.When})
			continue
		}
		expr, err := govaluate.NewEvaluableExpression(filter.When)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiledFilter{reason: reason, expr: expr})
	}
	return &FilterEngine{rules: rules, strict: strict, logger: logger}, nil
}

// Skip reports whether the event should be skipped, and why. data is the
// flattened payload, raw the decoded JSON document.
func (e *FilterEngine) Skip(data map[string]interface{}, raw interface{}) (bool, string) {
	for _, rule := range e.rules {
		if rule.path != "" {
			value, err := jsonpath.Get(rule.path, raw)
			if err != nil {
				if e.strict {
					e.logger.Printf("filter path %q failed: %v", rule.path, err)
				}
				continue
			}
			if truthy(value) {
				return true, rule.reason
			}
			continue
		}

		result, err := rule.expr.Evaluate(data)
		if err != nil {
			// missing fields evaluate to an error; only worth noise in strict mode
			if e.strict {
				e.logger.Printf("filter eval failed: %v", err)
			}
			continue
		}
		if ok, _ := result.(bool); ok {
			return true, rule.reason
		}
	}
	return false, ""
}

func truthy(value interface{}) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed != ""
	case nil:
		return false
	case []interface{}:
		return len(typed) > 0
	default:
		return true
	}
}
