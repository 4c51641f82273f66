package query

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	readOnlyPrefixes = []string{"select", "with", "explain", "values"}
	// Only words that can write after an allowed leading keyword belong here.
	// Statements that begin with LOAD, SET, COPY and the like fail the prefix
	// check, so those words stay usable as column aliases.
	mutatingKeyword  = regexp.MustCompile(`\b(insert|update|delete|merge|into|create|drop|alter|truncate|attach|detach|grant|revoke)\b`)
	// Functions that change server or session state from inside a SELECT.
	mutatingFunction = regexp.MustCompile(`\b(set_config|nextval|setval|load_extension|lo_import|lo_export|lo_unlink|pg_terminate_backend|pg_cancel_backend|pg_reload_conf|pg_rotate_logfile|pg_advisory_lock|pg_advisory_xact_lock|dblink\w*)\s*\(`)
	explainAnalyze   = regexp.MustCompile(`^explain\s*(\([^)]*\banalyze\b|analyze\b)`)
)

// CheckReadOnly rejects anything other than a single SELECT/WITH/EXPLAIN/VALUES
// statement. Keywords inside string literals, quoted identifiers and comments
// are ignored.
func CheckReadOnly(sqlText string) error {
	normalized := strings.ToLower(StripTrailingSemicolons(maskLiterals(sqlText)))
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	if strings.Contains(normalized, ";") {
		return fmt.Errorf("%w: multiple statements are not allowed", ErrNotReadOnly)
	}

	allowed := false
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: only SELECT, WITH, EXPLAIN or VALUES statements are allowed", ErrNotReadOnly)
	}
	if explainAnalyze.MatchString(normalized) {
		return fmt.Errorf("%w: EXPLAIN ANALYZE executes the statement", ErrNotReadOnly)
	}
	if match := mutatingKeyword.FindString(normalized); match != "" {
		return fmt.Errorf("%w: %s is not allowed", ErrNotReadOnly, strings.ToUpper(match))
	}
	if match := mutatingFunction.FindStringSubmatch(normalized); match != nil {
		return fmt.Errorf("%w: %s() is not allowed", ErrNotReadOnly, match[1])
	}
	return nil
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

// maskLiterals blanks out quoted strings, quoted identifiers and comments so
// keyword checks only see SQL structure. Output length matches input length.
func maskLiterals(sqlText string) string {
	out := []byte(sqlText)
	n := len(out)
	for i := 0; i < n; i++ {
		switch c := out[i]; {
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < n {
				if out[j] == c {
					if j+1 < n && out[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			for k := i + 1; k < j && k < n; k++ {
				out[k] = ' '
			}
			i = j
		case c == '[':
			j := i + 1
			for j < n && out[j] != ']' {
				out[j] = ' '
				j++
			}
			i = j
		case c == '-' && i+1 < n && out[i+1] == '-':
			for i < n && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < n && out[i+1] == '*':
			j := i
			for j < n && !(out[j] == '*' && j+1 < n && out[j+1] == '/') {
				out[j] = ' '
				j++
			}
			if j < n {
				out[j] = ' '
			}
			if j+1 < n {
				out[j+1] = ' '
			}
			i = j + 1
		}
	}
	return string(out)
}
