package parser

import (
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query   string
		terms   []string
		weights []float64
	}{
		{"cat", []string{"cat"}, []float64{1}},
		{"cat dog cat", []string{"cat", "dog"}, []float64{2, 1}},
		{"  ", []string{}, []float64{}},
		{"!!! ...", []string{}, []float64{}},
		{"Cat cat", []string{"Cat", "cat"}, []float64{1, 1}},
	}
	for _, test := range tests {
		plan := Parse(test.query, tokenizer.Unicode{})
		if !reflect.DeepEqual(plan.Terms, test.terms) || !reflect.DeepEqual(plan.Weights, test.weights) {
			t.Errorf("Parse(%q) = %q %v, want %q %v", test.query, plan.Terms, plan.Weights, test.terms, test.weights)
		}
		if plan.RawQuery != test.query {
			t.Errorf("RawQuery = %q", plan.RawQuery)
		}
	}
}

func TestParse_Lowercase(t *testing.T) {
	plan := Parse("Cat CAT cat", tokenizer.Lowercase(tokenizer.Unicode{}))
	if !reflect.DeepEqual(plan.Terms, []string{"cat"}) || plan.Weights[0] != 3 {
		t.Errorf("got %q %v", plan.Terms, plan.Weights)
	}
}

func TestQueryPlan_Key(t *testing.T) {
	tok := tokenizer.Unicode{}
	if a, b := Parse("cat  dog", tok).Key(), Parse("cat, dog!", tok).Key(); a != b {
		t.Errorf("equivalent queries have keys %q and %q", a, b)
	}
	if a, b := Parse("cat dog", tok).Key(), Parse("dog cat", tok).Key(); a == b {
		t.Error("term order should be part of the key")
	}
	if a, b := Parse("cat cat", tok).Key(), Parse("cat", tok).Key(); a == b {
		t.Error("weights should be part of the key")
	}
	if got := Parse("cat cat dog", tok).Key(); got != `"cat"^2 "dog"` {
		t.Errorf("Key = %s", got)
	}
	if !Parse("", tok).Empty() {
		t.Error("blank query should be empty")
	}
}

func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "distributed systems"},
		{"repeated", "search search ranking search"},
		{"long", "distributed search analytics platform indexing query processing ranking caching sharding"},
	}
	tok := tokenizer.Lowercase(tokenizer.Unicode{})
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = Parse(q.query, tok)
			}
		})
	}
}
