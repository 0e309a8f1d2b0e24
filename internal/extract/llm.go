package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/config"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// maxLLMSectionChars bounds the text sent per request.
const maxLLMSectionChars = 12000

const llmSystemPrompt = `You are an IT due diligence analyst reviewing documents from a data room.
Extract discrete, verifiable IT facts from the provided document sections.

Each fact must name one concrete item: a system, application, vendor contract,
security control, infrastructure component, team, or process.

Respond with a JSON array only. Each element:
{
  "domain": "infrastructure|applications|security|network|data|identity|cloud|endpoints|itsm|organization",
  "category": "short category within the domain",
  "item": "one-sentence statement of the fact",
  "status": "active|planned|deprecated|retired|unknown",
  "details": {"vendor": "...", "version": "...", "quantity": "...", "annual_cost": "..."},
  "quote": "verbatim supporting quote from the text",
  "confidence": 0.0
}

Omit detail keys you cannot support with the text. Set confidence to how
certain you are the fact is stated (not inferred). Do not invent facts.`

// llmAssist runs the LLM-assisted extraction pass over sections the
// pattern rules could not classify.
type llmAssist struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

func newLLMAssist(client anthropic.Client, cfg config.AnthropicConfig) *llmAssist {
	return &llmAssist{
		client: anthropic.NewRateLimited(client, cfg.RateRPS),
		cfg:    cfg,
	}
}

// llmFact mirrors the JSON shape the model is asked to produce.
type llmFact struct {
	Domain     string            `json:"domain"`
	Category   string            `json:"category"`
	Item       string            `json:"item"`
	Status     string            `json:"status"`
	Details    map[string]string `json:"details"`
	Quote      string            `json:"quote"`
	Confidence float64           `json:"confidence"`
}

// extract sends the low-signal sections to the model and converts the
// reply into candidate facts.
func (l *llmAssist) extract(ctx context.Context, sections []Section, sourceFile string, extCtx Context) ([]model.CandidateFact, error) {
	prompt := l.buildPrompt(sections, extCtx)

	resp, err := l.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     l.cfg.Model,
		MaxTokens: l.cfg.MaxTokens,
		System: []anthropic.SystemBlock{
			{Text: llmSystemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: llm request")
	}
	resp.Usage.LogCost(l.cfg.Model, "fact-extraction")

	facts, err := parseLLMFacts(resp.Text())
	if err != nil {
		return nil, err
	}

	// Sections are concatenated in order, so map quotes back to pages by
	// first containing section.
	out := make([]model.CandidateFact, 0, len(facts))
	for _, f := range facts {
		if strings.TrimSpace(f.Item) == "" {
			continue
		}
		status := model.FactStatus(f.Status)
		if !status.IsValid() {
			status = model.FactStatusUnknown
		}
		var details map[string]any
		if len(f.Details) > 0 {
			details = make(map[string]any, len(f.Details))
			for k, v := range f.Details {
				details[k] = v
			}
		}
		c := model.CandidateFact{
			TempID:     uuid.New().String(),
			Domain:     normalizeLLMDomain(f.Domain),
			Category:   strings.ToLower(strings.TrimSpace(f.Category)),
			Entity:     extCtx.DefaultEntity,
			Item:       truncate(strings.TrimSpace(f.Item), maxItemLen),
			Status:     status,
			Details:    details,
			Confidence: model.ClampConfidence(f.Confidence),
			SourceFile: sourceFile,
		}
		if c.Category == "" {
			c.Category = "general"
		}
		if quote := strings.TrimSpace(f.Quote); quote != "" {
			c.Evidence = &model.Evidence{
				Quote: truncate(quote, maxQuoteLen),
				Page:  pageForQuote(sections, quote),
			}
		}
		out = append(out, c)
	}

	zap.L().Debug("extract: llm pass complete",
		zap.String("source", sourceFile),
		zap.Int("sections", len(sections)),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

func (l *llmAssist) buildPrompt(sections []Section, extCtx Context) string {
	var b strings.Builder
	b.WriteString("Target company sections from file under review")
	if extCtx.DefaultEntity == model.EntityBuyer {
		b.WriteString(" (buyer-side material)")
	}
	b.WriteString(".\n")
	if len(extCtx.DomainCounts) > 0 {
		b.WriteString("Facts already captured per domain: ")
		first := true
		for _, d := range []string{"infrastructure", "applications", "security", "network", "data", "identity", "cloud", "endpoints", "itsm", "organization"} {
			if n, ok := extCtx.DomainCounts[d]; ok && n > 0 {
				if !first {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%s=%d", d, n)
				first = false
			}
		}
		b.WriteString(". Prefer facts that add to these.\n")
	}
	b.WriteString("\n")

	budget := maxLLMSectionChars
	for _, sec := range sections {
		chunk := "## " + sec.Title + "\n" + sec.Text + "\n\n"
		if len(chunk) > budget {
			if budget < 500 {
				break
			}
			chunk = chunk[:budget]
		}
		b.WriteString(chunk)
		budget -= len(chunk)
	}
	return b.String()
}

// parseLLMFacts tolerates markdown fences and leading prose around the
// JSON array.
func parseLLMFacts(text string) ([]llmFact, error) {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end < start {
		return nil, eris.New("extract: no JSON array in llm response")
	}

	var facts []llmFact
	if err := json.Unmarshal([]byte(text[start:end+1]), &facts); err != nil {
		return nil, eris.Wrap(err, "extract: decode llm response")
	}
	return facts, nil
}

// normalizeLLMDomain maps whatever the model sent onto a known domain.
func normalizeLLMDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	switch d {
	case "infrastructure", "applications", "security", "network", "data",
		"identity", "cloud", "endpoints", "itsm", "organization":
		return d
	case "application", "app":
		return "applications"
	case "infra", "datacenter", "hosting":
		return "infrastructure"
	case "networking":
		return "network"
	case "iam", "access":
		return "identity"
	default:
		return "unknown"
	}
}

func pageForQuote(sections []Section, quote string) int {
	needle := quote
	if len(needle) > 60 {
		n := 60
		for n > 0 && !utf8.RuneStart(needle[n]) {
			n--
		}
		needle = needle[:n]
	}
	for _, sec := range sections {
		if strings.Contains(sec.Text, needle) {
			return sec.StartPage
		}
	}
	if len(sections) > 0 {
		return sections[0].StartPage
	}
	return 1
}
