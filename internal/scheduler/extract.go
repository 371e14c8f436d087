package scheduler

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ComponentExtensions are the source extensions a guessed component name is
// expanded to.
var ComponentExtensions = []string{".tsx", ".ts", ".jsx", ".vue", ".go", ".py"}

var (
	pathPattern       = regexp.MustCompile(`(?:[A-Za-z0-9_.-]+/)*[A-Za-z0-9_-]+\.[A-Za-z][A-Za-z0-9]{0,5}\b`)
	capitalizedRun    = regexp.MustCompile(`\b(?:[A-Z][a-z0-9]+)(?:[ ]+[A-Z][a-z0-9]+)+\b`)
	camelCaseWord     = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`)
	componentPhrasing = regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9_-]*)\s+(?:component|file|page|module|screen|view)\b`)
)

var sourceExtensions = map[string]bool{
	"go": true, "ts": true, "tsx": true, "js": true, "jsx": true, "vue": true, "svelte": true,
	"py": true, "rb": true, "rs": true, "java": true, "kt": true, "swift": true, "css": true,
	"scss": true, "html": true, "md": true, "yaml": true, "yml": true, "json": true, "sql": true,
	"sh": true, "toml": true, "proto": true,
}

// Leading words dropped from capitalized runs, so "Fix Login Form" guesses
// LoginForm rather than FixLoginForm.
var leadingStopWords = map[string]bool{
	"add": true, "fix": true, "update": true, "remove": true, "implement": true, "create": true,
	"refactor": true, "make": true, "improve": true, "the": true, "a": true, "an": true,
	"move": true, "rename": true, "delete": true, "support": true, "use": true, "when": true,
}

var phrasingStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true, "new": true, "each": true,
	"every": true, "same": true, "one": true, "main": true, "config": true, "test": true,
}

// ExtractFiles guesses the files a work item description is likely to touch.
// The result is sorted and deduplicated.
func ExtractFiles(text string) []string {
	found := map[string]bool{}

	for _, match := range pathPattern.FindAllString(text, -1) {
		ext := strings.ToLower(match[strings.LastIndex(match, ".")+1:])
		if !sourceExtensions[ext] {
			continue
		}
		found[strings.TrimPrefix(match, "./")] = true
	}

	addComponent := func(name string) {
		if len(name) < 3 {
			return
		}
		for _, ext := range ComponentExtensions {
			found[name+ext] = true
		}
	}

	for _, match := range capitalizedRun.FindAllString(text, -1) {
		words := strings.Fields(match)
		for len(words) > 0 && leadingStopWords[strings.ToLower(words[0])] {
			words = words[1:]
		}
		if len(words) < 2 {
			continue
		}
		addComponent(strings.Join(words, ""))
	}
	for _, match := range camelCaseWord.FindAllString(text, -1) {
		addComponent(match)
	}
	for _, groups := range componentPhrasing.FindAllStringSubmatch(text, -1) {
		name := groups[1]
		if phrasingStopWords[strings.ToLower(name)] {
			continue
		}
		addComponent(pascalCase(name))
	}

	files := make([]string, 0, len(found))
	for file := range found {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

func pascalCase(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' })
	var b strings.Builder
	for _, part := range parts {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}
