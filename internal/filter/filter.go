// Package filter decides whether a specific resource is in scope for
// auto-remediation, based on per-rule include and exclude pattern lists.
package filter

import (
	"log/slog"
	"regexp"

	"github.com/qualys/remediator/internal/config"
)

// matchEverything is the include list applied when a rule configures none.
var matchEverything = []string{".*"}

// Filter evaluates resource identifiers against the include/exclude
// patterns configured per rule. Patterns are regular expressions and must
// match the full resource identifier, not a substring of it.
type Filter struct {
	settings config.RuleSettings
	logger   *slog.Logger

	compiled map[string]*regexp.Regexp
}

func New(settings config.RuleSettings, logger *slog.Logger) *Filter {
	return &Filter{
		settings: settings,
		logger:   logger,
		compiled: make(map[string]*regexp.Regexp),
	}
}

// Accept reports whether resourceID may be remediated under rule. A resource
// is accepted iff it full-matches at least one include pattern and no
// exclude pattern.
func (f *Filter) Accept(rule, action, account, resourceID string) bool {
	include := f.settings.LookupStringSlice(rule, config.KeyInclude, matchEverything, action, account)
	exclude := f.settings.LookupStringSlice(rule, config.KeyExclude, nil, action, account)

	included := false
	for _, pat := range include {
		if f.match(pat, resourceID) {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, pat := range exclude {
		if f.match(pat, resourceID) {
			return false
		}
	}
	return true
}

func (f *Filter) match(pattern, resourceID string) bool {
	re, ok := f.compiled[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(`\A(?:` + pattern + `)\z`)
		if err != nil {
			f.logger.Warn("ignoring invalid resource pattern",
				"pattern", pattern,
				"error", err)
			re = nil
		}
		f.compiled[pattern] = re
	}
	if re == nil {
		return false
	}
	return re.MatchString(resourceID)
}
