package config

import "fmt"

// RuleSettings holds per-rule operator configuration. The inner map is keyed
// by dotted setting names; a setting may be qualified by action and account
// to override the global value for a narrower scope.
type RuleSettings map[string]map[string]any

// Well-known setting keys.
const (
	KeyImplementation   = "implementation"
	KeyPreview          = "preview"
	KeyDeploymentMethod = "deploymentMethod"
	KeyManualTagName    = "manualTagName"
	KeyResourceTags     = "autoResourceTags"
	KeyStackNamePattern = "stackNamePattern"
	KeyInclude          = "include"
	KeyExclude          = "exclude"
)

// Configured reports whether any settings exist for rule. A rule with no
// entry at all is treated as not implemented for auto-remediation.
func (s RuleSettings) Configured(rule string) bool {
	_, ok := s[rule]
	return ok
}

// Lookup resolves a setting for (rule, key) with the most specific match
// winning: key.action.account, then key.action, then key, then def.
func (s RuleSettings) Lookup(rule, key string, def any, action, account string) any {
	table, ok := s[rule]
	if !ok {
		return def
	}
	for _, k := range []string{
		key + "." + action + "." + account,
		key + "." + action,
		key,
	} {
		if v, ok := table[k]; ok {
			return v
		}
	}
	return def
}

// LookupString resolves a setting expected to be a string. Non-string values
// fall back to the default.
func (s RuleSettings) LookupString(rule, key, def, action, account string) string {
	if v, ok := s.Lookup(rule, key, def, action, account).(string); ok {
		return v
	}
	return def
}

// LookupBool resolves a setting expected to be a bool.
func (s RuleSettings) LookupBool(rule, key string, def bool, action, account string) bool {
	if v, ok := s.Lookup(rule, key, def, action, account).(bool); ok {
		return v
	}
	return def
}

// LookupStringSlice resolves a setting expected to be a list of strings.
// YAML decodes sequences as []any, so both representations are accepted.
func (s RuleSettings) LookupStringSlice(rule, key string, def []string, action, account string) []string {
	switch v := s.Lookup(rule, key, nil, action, account).(type) {
	case nil:
		return def
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return def
	}
}

// LookupStringMap resolves a setting expected to be a string-keyed map of
// strings.
func (s RuleSettings) LookupStringMap(rule, key string, def map[string]string, action, account string) map[string]string {
	switch v := s.Lookup(rule, key, nil, action, account).(type) {
	case nil:
		return def
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[k] = fmt.Sprint(e)
		}
		return out
	default:
		return def
	}
}

// LookupMap resolves a setting expected to be an arbitrary map.
func (s RuleSettings) LookupMap(rule, key string, def map[string]any, action, account string) map[string]any {
	if v, ok := s.Lookup(rule, key, nil, action, account).(map[string]any); ok {
		return v
	}
	return def
}
