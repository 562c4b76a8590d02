package domain

import (
	"encoding/json"

	dErrors "keystone/pkg/domain-errors"
)

// ValidateSurveyAnswers accepts any non-empty JSON object. Survey answers are
// opaque; only their presence matters.
func ValidateSurveyAnswers(answers json.RawMessage) error {
	var fields map[string]json.RawMessage
	if len(answers) == 0 || json.Unmarshal(answers, &fields) != nil || len(fields) == 0 {
		return dErrors.New(dErrors.CodeValidation, "survey answers must be a non-empty JSON object")
	}
	return nil
}
