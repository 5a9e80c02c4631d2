package evaluator

import (
	"strings"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/index/tokenizer"
	"github.com/Muntasir-Arin/es-in-action/internal/query"
)

const (
	highlightPre  = "<em>"
	highlightPost = "</em>"
)

// highlight builds one fragment per requested field with the query terms
// that hit that field wrapped in emphasis tags. Terms are collected from the
// scoring clauses of the tree; must_not clauses never highlight.
func highlight(node *query.Node, doc *index.Document, fields []string) map[string][]string {
	termsPerField := make(map[string]map[string]bool)
	collectTerms(node, termsPerField)
	var out map[string][]string
	for _, field := range fields {
		wanted := termsPerField[field]
		if len(wanted) == 0 {
			continue
		}
		v, ok := doc.Fields[field]
		if !ok || v.Kind != index.KindString {
			continue
		}
		fragment, hit := wrapTerms(v.Str, wanted)
		if !hit {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[field] = []string{fragment}
	}
	return out
}

func collectTerms(node *query.Node, acc map[string]map[string]bool) {
	if node == nil {
		return
	}
	add := func(field string, terms ...string) {
		if acc[field] == nil {
			acc[field] = make(map[string]bool)
		}
		for _, t := range terms {
			acc[field][t] = true
		}
	}
	switch node.Kind {
	case query.KindMatch, query.KindMatchPhrase:
		add(node.Field, tokenizer.Terms(node.Text)...)
	case query.KindMultiMatch:
		for _, field := range node.FieldsList {
			add(field, tokenizer.Terms(node.Text)...)
		}
	case query.KindTerm:
		if node.Value.Kind == index.KindString {
			add(node.Field, strings.ToLower(node.Value.Str))
		}
	case query.KindFuzzy:
		add(node.Field, node.Value.Str)
	case query.KindBool:
		for _, clause := range node.Must {
			collectTerms(clause, acc)
		}
		for _, clause := range node.Should {
			collectTerms(clause, acc)
		}
		for _, clause := range node.Filter {
			collectTerms(clause, acc)
		}
	case query.KindFunctionScore:
		collectTerms(node.Inner, acc)
	}
}

// wrapTerms rebuilds the text with every token whose folded form is in the
// wanted set wrapped in emphasis tags, preserving the original casing.
func wrapTerms(text string, wanted map[string]bool) (string, bool) {
	words := strings.Fields(text)
	hit := false
	for i, word := range words {
		if wanted[strings.ToLower(word)] {
			words[i] = highlightPre + word + highlightPost
			hit = true
		}
	}
	return strings.Join(words, " "), hit
}
