package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// variablePattern matches Go template variable references like {{.VarName}} or {{ .VarName }}
// Also matches nested fields like {{.Book.Title}}
var variablePattern = regexp.MustCompile(`\{\{\s*\.([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// placeholderPattern matches single-brace upper snake case placeholders like {CHAPTER_NAME}.
var placeholderPattern = regexp.MustCompile(`\{([A-Z][A-Z0-9_]*)\}`)

// ExtractVariables extracts template variable names from a Go template string.
// For example, "Hello {{.Name}}, you have {{.Count}} items" returns ["Count", "Name"].
// Nested fields like {{.Book.Title}} return "Book.Title".
func ExtractVariables(text string) []string {
	return uniqueSorted(variablePattern.FindAllStringSubmatch(text, -1))
}

// Placeholders lists the {NAME} placeholders in a template, sorted.
func Placeholders(text string) []string {
	return uniqueSorted(placeholderPattern.FindAllStringSubmatch(text, -1))
}

func uniqueSorted(matches [][]string) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, match := range matches {
		if len(match) > 1 {
			varName := match[1]
			if !seen[varName] {
				seen[varName] = true
				vars = append(vars, varName)
			}
		}
	}

	// Sort for consistent ordering
	sort.Strings(vars)
	return vars
}

// Render substitutes {NAME} and {{.Name}} placeholders from vars.
// A {{.ChapterName}} reference also resolves from CHAPTER_NAME.
// Placeholders with no value are left as written.
func Render(tmpl string, vars map[string]string) string {
	out := variablePattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := variablePattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := vars[snakeUpper(name)]; ok {
			return v
		}
		return m
	})
	return placeholderPattern.ReplaceAllStringFunc(out, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Missing returns the {NAME} placeholders in tmpl that vars cannot fill.
func Missing(tmpl string, vars map[string]string) []string {
	var missing []string
	for _, name := range Placeholders(tmpl) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// snakeUpper converts ChapterName to CHAPTER_NAME.
func snakeUpper(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if r == '.' {
			b.WriteRune('_')
			continue
		}
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
			b.WriteRune('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
