package flow

import (
	"strings"

	"github.com/zapflow/zapflow/internal/models"
)

// MatchOption resolves normalized inbound text against a node's ordered
// option list and returns the first option that matches, or nil.
//
// Matching is first-match-wins in declared order. Options with an empty
// normalized label are never eligible and are skipped. MatchTypeContains
// checks that the input contains the label as a substring; every other match
// type requires exact equality. The input must already be normalized with
// NormalizeText. This is a pure resolution step with no side effects.
func MatchOption(normalizedInput string, options []models.Option) *models.Option {
	for i := range options {
		opt := &options[i]
		if opt.NormalizedLabel == "" {
			continue
		}
		switch opt.MatchType {
		case models.MatchTypeContains:
			if strings.Contains(normalizedInput, opt.NormalizedLabel) {
				return opt
			}
		default:
			if normalizedInput == opt.NormalizedLabel {
				return opt
			}
		}
	}
	return nil
}
