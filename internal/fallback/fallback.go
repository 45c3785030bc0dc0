// Package fallback produces canned support replies when the backend cannot
// answer. Replies are chosen from an ordered keyword rule table.
package fallback

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps any of its keywords to a reply. Keywords are matched as
// case-insensitive substrings.
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// Table is an ordered rule list plus the reply used when nothing matches.
type Table struct {
	Rules   []Rule `yaml:"rules"`
	Default string `yaml:"default"`
}

// Generator selects replies from a Table. It holds no mutable state and is
// safe for concurrent use.
type Generator struct {
	rules        []Rule
	defaultReply string
}

// New builds a Generator. Keywords are lowered once up front.
func New(table Table) *Generator {
	rules := make([]Rule, 0, len(table.Rules))
	for _, r := range table.Rules {
		lowered := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				lowered = append(lowered, kw)
			}
		}
		rules = append(rules, Rule{Name: r.Name, Keywords: lowered, Reply: r.Reply})
	}
	return &Generator{rules: rules, defaultReply: table.Default}
}

// Default returns a Generator over the built-in support table.
func Default() *Generator {
	return New(DefaultTable())
}

// Reply returns the reply of the first rule with a keyword contained in text.
func (g *Generator) Reply(text string) string {
	reply, _ := g.Match(text)
	return reply
}

// Match is Reply that also reports the matched rule name, "" for the default.
func (g *Generator) Match(text string) (string, string) {
	lowered := strings.ToLower(text)
	for _, r := range g.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lowered, kw) {
				return r.Reply, r.Name
			}
		}
	}
	return g.defaultReply, ""
}

// DefaultTable is the built-in rule table. Order matters: the first rule
// with a matching keyword wins.
func DefaultTable() Table {
	return Table{
		Rules: []Rule{
			{
				Name:     "balance",
				Keywords: []string{"баланс", "balans", "balance"},
				Reply:    "Balansınızı yoxlamaq üçün əsas ekrana keçin. Orada bütün məlumatlarınızı görə bilərsiniz.",
			},
			{
				Name:     "payment",
				Keywords: []string{"платеж", "ödəniş", "payment"},
				Reply:    "Ödəniş etmək üçün 'Ödənişlər' bölməsinə keçin. Hansı xidməti ödəmək istəyirsiniz?",
			},
			{
				Name:     "transfer",
				Keywords: []string{"перевод", "köçürmə", "transfer"},
				Reply:    "Pul köçürmək üçün 'Köçürmələr' bölməsindən istifadə edə bilərsiniz. Köçürmələr pulsuz və ani olur!",
			},
			{
				Name:     "bakikart",
				Keywords: []string{"bakıkart", "бакыкарт", "bakikart"},
				Reply: "BakıKART balansını artırmaq üçün:\n" +
					"1. 'Xidmətlər' bölməsinə keçin\n" +
					"2. 'BakıKART' seçin\n" +
					"3. Kart nömrəsini daxil edin\n" +
					"4. Məbləği seçin\n" +
					"5. 'Ödə' düyməsinə toxunun",
			},
		},
		Default: "Anladım. Mən sizə balans, ödənişlər və köçürmələr haqqında kömək edə bilərəm. Xahiş edirəm, daha dəqiq sual verin.",
	}
}

// LoadTable reads a YAML rule table. A missing default reply is taken from
// the built-in table.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read rules: %w", err)
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range table.Rules {
		if len(r.Keywords) == 0 || r.Reply == "" {
			return Table{}, fmt.Errorf("rule %d (%s): keywords and reply are required", i, r.Name)
		}
	}
	if table.Default == "" {
		table.Default = DefaultTable().Default
	}
	return table, nil
}
