package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sourcing-cli/internal/cost"
	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/internal/resilience"
	"github.com/sells-group/sourcing-cli/pkg/anthropic"
	"github.com/sells-group/sourcing-cli/pkg/techdetect"
	"github.com/sells-group/sourcing-cli/pkg/websearch"
)

// adapterRetry returns the in-call retry policy for flaky upstream APIs.
// The job queue retries whole companies; this only smooths single blips.
func adapterRetry(source string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.OnRetry = resilience.RetryLogger(source, "fetch")
	return cfg
}

// SearchAdapter gathers public web mentions of a company.
type SearchAdapter struct {
	client  websearch.Client
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewSearchAdapter creates a SearchAdapter.
func NewSearchAdapter(client websearch.Client, timeout time.Duration) *SearchAdapter {
	return &SearchAdapter{client: client, timeout: timeout, retry: adapterRetry("websearch")}
}

func (a *SearchAdapter) Name() string           { return "websearch" }
func (a *SearchAdapter) Timeout() time.Duration { return a.timeout }

func (a *SearchAdapter) Fetch(ctx context.Context, company model.CompanyContext) (*model.EnrichmentArtifact, error) {
	query := company.Name
	if company.Industry != "" {
		query += " " + company.Industry
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*websearch.SearchResponse, error) {
		return a.client.Search(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil // legitimately nothing found
	}

	payload, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, eris.Wrap(err, "search adapter: marshal results")
	}

	// More corroborating results means higher confidence, capped at 0.9.
	confidence := 0.3 + 0.1*float64(len(resp.Data))
	if confidence > 0.9 {
		confidence = 0.9
	}

	return &model.EnrichmentArtifact{
		ArtifactType: model.ArtifactTypeSearch,
		Payload:      payload,
		Confidence:   confidence,
	}, nil
}

// TechStackAdapter detects the technologies on a company's website.
type TechStackAdapter struct {
	client  techdetect.Client
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewTechStackAdapter creates a TechStackAdapter.
func NewTechStackAdapter(client techdetect.Client, timeout time.Duration) *TechStackAdapter {
	return &TechStackAdapter{client: client, timeout: timeout, retry: adapterRetry("techstack")}
}

func (a *TechStackAdapter) Name() string           { return "techstack" }
func (a *TechStackAdapter) Timeout() time.Duration { return a.timeout }

func (a *TechStackAdapter) Fetch(ctx context.Context, company model.CompanyContext) (*model.EnrichmentArtifact, error) {
	if company.Website == "" {
		return nil, nil // nothing to detect against
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*techdetect.DetectResponse, error) {
		return a.client.Detect(ctx, company.Website)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Technologies) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, eris.Wrap(err, "techstack adapter: marshal response")
	}

	return &model.EnrichmentArtifact{
		ArtifactType: model.ArtifactTypeTechStack,
		Payload:      payload,
		Confidence:   0.8,
	}, nil
}

// upliftPrompt instructs the LLM to return the fixed uplift analysis schema.
const upliftPrompt = `You are evaluating a mid-market company as a potential acquisition target. Based on the provided company facts, identify operational improvement levers a new owner could pull (pricing, tooling, go-to-market, cost structure).

Respond with ONLY valid JSON, no other text:
{"uplift_levers": ["..."], "impact_range": "low|medium|high", "confidence": 0.0}`

// UpliftAdapter asks the LLM collaborator for an operational-uplift analysis.
// Non-conforming responses are adapter errors, never crashes.
type UpliftAdapter struct {
	ai        anthropic.Client
	modelName string
	maxTokens int64
	timeout   time.Duration
	costs     *cost.Calculator
}

// NewUpliftAdapter creates an UpliftAdapter.
func NewUpliftAdapter(ai anthropic.Client, modelName string, maxTokens int64, timeout time.Duration, costs *cost.Calculator) *UpliftAdapter {
	return &UpliftAdapter{ai: ai, modelName: modelName, maxTokens: maxTokens, timeout: timeout, costs: costs}
}

func (a *UpliftAdapter) Name() string           { return "llm_uplift" }
func (a *UpliftAdapter) Timeout() time.Duration { return a.timeout }

func (a *UpliftAdapter) Fetch(ctx context.Context, company model.CompanyContext) (*model.EnrichmentArtifact, error) {
	resp, err := a.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.modelName,
		MaxTokens: a.maxTokens,
		System:    []anthropic.SystemBlock{{Text: upliftPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: companyBrief(company)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "uplift adapter: llm request")
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, eris.New("uplift adapter: empty llm response")
	}

	analysis, err := parseUplift(text)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(analysis)
	if err != nil {
		return nil, eris.Wrap(err, "uplift adapter: marshal analysis")
	}

	resp.Usage.LogUsage(a.modelName, "uplift")
	zap.L().Debug("uplift cost",
		zap.String("company_id", company.CompanyID),
		zap.Float64("usd", a.costs.Claude(a.modelName, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))),
	)

	return &model.EnrichmentArtifact{
		ArtifactType: model.ArtifactTypeUplift,
		Payload:      payload,
		Confidence:   analysis.Confidence,
	}, nil
}

// classifyPrompt instructs the LLM to return the fixed classification schema.
const classifyPrompt = `You are classifying a mid-market company for an acquisition pipeline. Based on the provided company facts, name the vertical the company operates in, its business model, and any tags that matter to a buyer (recurring-revenue, asset-heavy, owner-operated, fragmented-market).

Respond with ONLY valid JSON, no other text:
{"vertical": "...", "business_model": "...", "tags": ["..."], "confidence": 0.0}`

// ClassifierAdapter asks the LLM collaborator to classify a company's
// vertical and business model for the strategic-fit signal.
type ClassifierAdapter struct {
	ai        anthropic.Client
	modelName string
	maxTokens int64
	timeout   time.Duration
	costs     *cost.Calculator
}

// NewClassifierAdapter creates a ClassifierAdapter.
func NewClassifierAdapter(ai anthropic.Client, modelName string, maxTokens int64, timeout time.Duration, costs *cost.Calculator) *ClassifierAdapter {
	return &ClassifierAdapter{ai: ai, modelName: modelName, maxTokens: maxTokens, timeout: timeout, costs: costs}
}

func (a *ClassifierAdapter) Name() string           { return "llm_classifier" }
func (a *ClassifierAdapter) Timeout() time.Duration { return a.timeout }

func (a *ClassifierAdapter) Fetch(ctx context.Context, company model.CompanyContext) (*model.EnrichmentArtifact, error) {
	resp, err := a.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.modelName,
		MaxTokens: a.maxTokens,
		System:    []anthropic.SystemBlock{{Text: classifyPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: companyBrief(company)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "classifier adapter: llm request")
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, eris.New("classifier adapter: empty llm response")
	}

	classification, err := parseClassification(text)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(classification)
	if err != nil {
		return nil, eris.Wrap(err, "classifier adapter: marshal classification")
	}

	resp.Usage.LogUsage(a.modelName, "classify")
	zap.L().Debug("classification cost",
		zap.String("company_id", company.CompanyID),
		zap.Float64("usd", a.costs.Claude(a.modelName, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))),
	)

	return &model.EnrichmentArtifact{
		ArtifactType: model.ArtifactTypeClassified,
		Payload:      payload,
		Confidence:   classification.Confidence,
	}, nil
}

// parseClassification extracts the classification JSON from the response
// text, which may carry surrounding prose.
func parseClassification(text string) (*model.CompanyClassification, error) {
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, eris.Errorf("classifier adapter: no JSON in response: %s", text)
	}

	var c model.CompanyClassification
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &c); err != nil {
		return nil, eris.Wrap(err, "classifier adapter: parse response JSON")
	}

	if c.Vertical == "" {
		return nil, eris.New("classifier adapter: missing vertical")
	}
	if c.BusinessModel == "" {
		return nil, eris.New("classifier adapter: missing business_model")
	}

	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}

	return &c, nil
}

// parseUplift extracts the uplift analysis JSON from the response text,
// which may carry surrounding prose.
func parseUplift(text string) (*model.UpliftAnalysis, error) {
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, eris.Errorf("uplift adapter: no JSON in response: %s", text)
	}

	var analysis model.UpliftAnalysis
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &analysis); err != nil {
		return nil, eris.Wrap(err, "uplift adapter: parse response JSON")
	}

	switch analysis.ImpactRange {
	case "low", "medium", "high":
	default:
		return nil, eris.Errorf("uplift adapter: invalid impact_range %q", analysis.ImpactRange)
	}

	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}

	return &analysis, nil
}

// companyBrief formats the known company facts for the LLM.
func companyBrief(c model.CompanyContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", c.Name)
	if c.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", c.Industry)
	}
	if c.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", c.Website)
	}
	if c.Revenue != nil {
		fmt.Fprintf(&b, "Annual revenue: $%.0f\n", *c.Revenue)
	}
	if c.Headcount != nil {
		fmt.Fprintf(&b, "Headcount: %d\n", *c.Headcount)
	}
	return b.String()
}
