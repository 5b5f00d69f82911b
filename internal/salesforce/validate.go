package salesforce

import (
	"fmt"
	"regexp"
	"strings"
)

// objectNamePattern matches standard and custom object API names.
var objectNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,79}$`)

// blockedKeywords are SOQL-adjacent operations the explorer never runs.
// The query surface is read-only.
var blockedKeywords = []string{
	"insert", "update", "delete", "upsert", "merge", "undelete",
}

func validateObjectName(name string) error {
	if !objectNamePattern.MatchString(name) {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}

func validateQuery(soql string) error {
	if soql == "" {
		return fmt.Errorf("query cannot be empty")
	}
	lower := strings.ToLower(soql)
	if !strings.HasPrefix(lower, "select ") {
		return fmt.Errorf("only SELECT queries are allowed")
	}
	for _, kw := range blockedKeywords {
		// Word-boundary check keeps field names like "LastUpdate__c" legal.
		if containsWord(lower, kw) {
			return fmt.Errorf("query contains blocked keyword %q", kw)
		}
	}
	return nil
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i == -1 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
