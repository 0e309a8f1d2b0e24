// Package extract produces candidate facts from normalized document text
// using keyword-pattern voting with an optional LLM-assisted pass.
package extract

import (
	_ "embed"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var patternsYAML []byte

// ruleFile mirrors the structure of patterns.yaml.
type ruleFile struct {
	Domains    map[string]domainRule `yaml:"domains"`
	Statements map[string][]string   `yaml:"statements"`
	Statuses   map[string][]string   `yaml:"statuses"`
}

type domainRule struct {
	Keywords   []string            `yaml:"keywords"`
	Categories map[string][]string `yaml:"categories"`
}

// compiledDomain holds word-boundary regexes for one domain's keywords
// and per-category keyword sets.
type compiledDomain struct {
	name       string
	keywords   *regexp.Regexp
	categories map[string]*regexp.Regexp
}

// Rules is the compiled pattern rule set shared by all extractions.
type Rules struct {
	domains    []compiledDomain
	statements *regexp.Regexp
	statuses   []statusRule
}

type statusRule struct {
	status   string
	keywords *regexp.Regexp
}

// statusPriority fixes the evaluation order: transition states beat the
// generic "active" markers that often co-occur with them.
var statusPriority = []string{"retired", "deprecated", "planned", "active"}

// compileKeywords builds a single alternation regex matching any of the
// keywords on word boundaries, case-insensitively.
func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	if len(keywords) == 0 {
		return nil, eris.New("extract: empty keyword list")
	}
	escaped := make([]string, len(keywords))
	for i, k := range keywords {
		escaped[i] = regexp.QuoteMeta(strings.ToLower(k))
	}
	// Longest alternatives first so "data center" wins over "data".
	sort.Slice(escaped, func(i, j int) bool { return len(escaped[i]) > len(escaped[j]) })
	return regexp.Compile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
}

// LoadRules parses and compiles the embedded pattern rules.
func LoadRules() (*Rules, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(patternsYAML, &rf); err != nil {
		return nil, eris.Wrap(err, "extract: parse patterns.yaml")
	}

	r := &Rules{}

	domainNames := make([]string, 0, len(rf.Domains))
	for name := range rf.Domains {
		domainNames = append(domainNames, name)
	}
	sort.Strings(domainNames)

	for _, name := range domainNames {
		dr := rf.Domains[name]
		kw, err := compileKeywords(dr.Keywords)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: compile domain %s", name)
		}
		cd := compiledDomain{name: name, keywords: kw, categories: map[string]*regexp.Regexp{}}
		for cat, words := range dr.Categories {
			cre, err := compileKeywords(words)
			if err != nil {
				return nil, eris.Wrapf(err, "extract: compile category %s/%s", name, cat)
			}
			cd.categories[cat] = cre
		}
		r.domains = append(r.domains, cd)
	}

	var stmtWords []string
	for _, words := range rf.Statements {
		stmtWords = append(stmtWords, words...)
	}
	stmt, err := compileKeywords(stmtWords)
	if err != nil {
		return nil, eris.Wrap(err, "extract: compile statements")
	}
	r.statements = stmt

	for _, status := range statusPriority {
		words, ok := rf.Statuses[status]
		if !ok {
			continue
		}
		sre, err := compileKeywords(words)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: compile status %s", status)
		}
		r.statuses = append(r.statuses, statusRule{status: status, keywords: sre})
	}

	return r, nil
}

// DetectDomain scores text against every domain's keyword list and
// returns the winner with a normalized signal score in [0, 1]. Ties and
// low-signal text return ("unknown", 0). This is a heuristic majority
// vote, not a guarantee.
func (r *Rules) DetectDomain(text string) (string, float64) {
	type vote struct {
		name string
		hits int
	}
	var votes []vote
	for _, d := range r.domains {
		hits := len(d.keywords.FindAllStringIndex(text, -1))
		if hits > 0 {
			votes = append(votes, vote{name: d.name, hits: hits})
		}
	}
	if len(votes) == 0 {
		return "unknown", 0
	}
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].hits != votes[j].hits {
			return votes[i].hits > votes[j].hits
		}
		return votes[i].name < votes[j].name
	})

	// An exact tie between two domains is treated as no signal.
	if len(votes) > 1 && votes[0].hits == votes[1].hits {
		return "unknown", 0
	}

	words := len(strings.Fields(text))
	if words == 0 {
		return "unknown", 0
	}
	score := float64(votes[0].hits) / float64(words)
	if score > 1 {
		score = 1
	}
	// Density below ~1 hit per 200 words is too weak to trust.
	if score < 0.005 {
		return "unknown", 0
	}
	return votes[0].name, score
}

// DetectCategory picks the best-scoring category within domain, falling
// back to "general".
func (r *Rules) DetectCategory(domain, text string) string {
	for _, d := range r.domains {
		if d.name != domain {
			continue
		}
		best := "general"
		bestHits := 0
		names := make([]string, 0, len(d.categories))
		for name := range d.categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			hits := len(d.categories[name].FindAllStringIndex(text, -1))
			if hits > bestHits {
				best = name
				bestHits = hits
			}
		}
		return best
	}
	return "general"
}

// IsStatement reports whether a sentence contains an inventory or
// transition verb worth extracting.
func (r *Rules) IsStatement(sentence string) bool {
	return r.statements.MatchString(sentence)
}

// DetectStatus maps status keywords in a sentence to a fact status.
// Returns "unknown" when nothing matches.
func (r *Rules) DetectStatus(sentence string) string {
	for _, sr := range r.statuses {
		if sr.keywords.MatchString(sentence) {
			return sr.status
		}
	}
	return "unknown"
}
