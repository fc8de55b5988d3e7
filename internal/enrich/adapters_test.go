package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sourcing-cli/internal/cost"
	"github.com/sells-group/sourcing-cli/internal/model"
	"github.com/sells-group/sourcing-cli/pkg/anthropic"
	"github.com/sells-group/sourcing-cli/pkg/techdetect"
	"github.com/sells-group/sourcing-cli/pkg/websearch"
)

type fakeSearchClient struct {
	resp  *websearch.SearchResponse
	err   error
	query string
	calls int
}

func (f *fakeSearchClient) Search(_ context.Context, query string) (*websearch.SearchResponse, error) {
	f.query = query
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeTechClient struct {
	resp   *techdetect.DetectResponse
	err    error
	domain string
}

func (f *fakeTechClient) Detect(_ context.Context, domain string) (*techdetect.DetectResponse, error) {
	f.domain = domain
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeAIClient struct {
	resp *anthropic.MessageResponse
	err  error
	req  anthropic.MessageRequest
}

func (f *fakeAIClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 200, OutputTokens: 80},
	}
}

func TestSearchAdapter_Fetch(t *testing.T) {
	t.Parallel()

	client := &fakeSearchClient{resp: &websearch.SearchResponse{
		Data: []websearch.SearchResult{
			{Title: "Acme raises prices", URL: "https://example.com/1"},
			{Title: "Acme expands", URL: "https://example.com/2"},
		},
	}}
	a := NewSearchAdapter(client, time.Second)

	got, err := a.Fetch(context.Background(), model.CompanyContext{
		CompanyID: "c-1", Name: "Acme", Industry: "manufacturing",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Acme manufacturing", client.query)
	assert.Equal(t, model.ArtifactTypeSearch, got.ArtifactType)
	assert.InDelta(t, 0.5, got.Confidence, 0.0001) // 0.3 + 0.1*2

	var results []websearch.SearchResult
	require.NoError(t, json.Unmarshal(got.Payload, &results))
	assert.Len(t, results, 2)
}

func TestSearchAdapter_ConfidenceCapped(t *testing.T) {
	t.Parallel()

	many := make([]websearch.SearchResult, 20)
	client := &fakeSearchClient{resp: &websearch.SearchResponse{Data: many}}
	a := NewSearchAdapter(client, time.Second)

	got, err := a.Fetch(context.Background(), model.CompanyContext{Name: "Acme"})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Confidence, 0.0001)
}

func TestSearchAdapter_NothingFound(t *testing.T) {
	t.Parallel()

	client := &fakeSearchClient{resp: &websearch.SearchResponse{}}
	a := NewSearchAdapter(client, time.Second)

	got, err := a.Fetch(context.Background(), model.CompanyContext{Name: "Ghost Co"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearchAdapter_PermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	client := &fakeSearchClient{err: eris.New("websearch: status 401")}
	a := NewSearchAdapter(client, time.Second)

	_, err := a.Fetch(context.Background(), model.CompanyContext{Name: "Acme"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestTechStackAdapter_Fetch(t *testing.T) {
	t.Parallel()

	client := &fakeTechClient{resp: &techdetect.DetectResponse{
		Domain:       "acme.example.com",
		Technologies: []techdetect.Technology{{Name: "Shopify", Category: "ecommerce", IsLive: true}},
	}}
	a := NewTechStackAdapter(client, time.Second)

	got, err := a.Fetch(context.Background(), model.CompanyContext{
		CompanyID: "c-1", Name: "Acme", Website: "acme.example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme.example.com", client.domain)
	assert.Equal(t, model.ArtifactTypeTechStack, got.ArtifactType)
	assert.InDelta(t, 0.8, got.Confidence, 0.0001)
}

func TestTechStackAdapter_NoWebsite(t *testing.T) {
	t.Parallel()

	client := &fakeTechClient{}
	a := NewTechStackAdapter(client, time.Second)

	got, err := a.Fetch(context.Background(), model.CompanyContext{Name: "Offline LLC"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, client.domain) // client never called
}

func upliftAdapterForTest(ai anthropic.Client) *UpliftAdapter {
	return NewUpliftAdapter(ai, "claude-sonnet-4-5-20250929", 1024, time.Second,
		cost.NewCalculator(cost.DefaultRates()))
}

func TestUpliftAdapter_Fetch(t *testing.T) {
	t.Parallel()

	ai := &fakeAIClient{resp: textResponse(
		`{"uplift_levers": ["pricing", "tooling"], "impact_range": "high", "confidence": 0.75}`,
	)}
	a := upliftAdapterForTest(ai)

	rev := 50_000_000.0
	hc := 300
	got, err := a.Fetch(context.Background(), model.CompanyContext{
		CompanyID: "c-1", Name: "Acme", Industry: "manufacturing",
		Revenue: &rev, Headcount: &hc,
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.ArtifactTypeUplift, got.ArtifactType)
	assert.InDelta(t, 0.75, got.Confidence, 0.0001)

	var analysis model.UpliftAnalysis
	require.NoError(t, json.Unmarshal(got.Payload, &analysis))
	assert.Equal(t, []string{"pricing", "tooling"}, analysis.UpliftLevers)
	assert.Equal(t, "high", analysis.ImpactRange)

	// The brief carries the known company facts.
	require.Len(t, ai.req.Messages, 1)
	brief := ai.req.Messages[0].Content
	assert.Contains(t, brief, "Company: Acme")
	assert.Contains(t, brief, "Industry: manufacturing")
	assert.Contains(t, brief, "Annual revenue: $50000000")
	assert.Contains(t, brief, "Headcount: 300")
}

func TestUpliftAdapter_EmptyResponse(t *testing.T) {
	t.Parallel()

	ai := &fakeAIClient{resp: &anthropic.MessageResponse{}}
	a := upliftAdapterForTest(ai)

	_, err := a.Fetch(context.Background(), model.CompanyContext{Name: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty llm response")
}

func classifierAdapterForTest(ai anthropic.Client) *ClassifierAdapter {
	return NewClassifierAdapter(ai, "claude-sonnet-4-5-20250929", 1024, time.Second,
		cost.NewCalculator(cost.DefaultRates()))
}

func TestClassifierAdapter_Fetch(t *testing.T) {
	t.Parallel()

	ai := &fakeAIClient{resp: textResponse(
		`{"vertical": "industrial services", "business_model": "recurring services", "tags": ["recurring-revenue", "owner-operated"], "confidence": 0.8}`,
	)}
	a := classifierAdapterForTest(ai)

	got, err := a.Fetch(context.Background(), model.CompanyContext{
		CompanyID: "c-1", Name: "Acme", Industry: "manufacturing",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.ArtifactTypeClassified, got.ArtifactType)
	assert.InDelta(t, 0.8, got.Confidence, 0.0001)

	var c model.CompanyClassification
	require.NoError(t, json.Unmarshal(got.Payload, &c))
	assert.Equal(t, "industrial services", c.Vertical)
	assert.Equal(t, "recurring services", c.BusinessModel)
	assert.Equal(t, []string{"recurring-revenue", "owner-operated"}, c.Tags)

	require.Len(t, ai.req.Messages, 1)
	assert.Contains(t, ai.req.Messages[0].Content, "Company: Acme")
}

func TestClassifierAdapter_EmptyResponse(t *testing.T) {
	t.Parallel()

	ai := &fakeAIClient{resp: &anthropic.MessageResponse{}}
	a := classifierAdapterForTest(ai)

	_, err := a.Fetch(context.Background(), model.CompanyContext{Name: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty llm response")
}

func TestParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    *model.CompanyClassification
		wantErr string
	}{
		{
			name: "bare json",
			text: `{"vertical": "logistics", "business_model": "project-based", "confidence": 0.6}`,
			want: &model.CompanyClassification{Vertical: "logistics", BusinessModel: "project-based", Confidence: 0.6},
		},
		{
			name: "surrounding prose",
			text: "Classification below.\n{\"vertical\": \"hvac\", \"business_model\": \"recurring services\", \"tags\": [\"fragmented-market\"], \"confidence\": 0.9}\nDone.",
			want: &model.CompanyClassification{Vertical: "hvac", BusinessModel: "recurring services", Tags: []string{"fragmented-market"}, Confidence: 0.9},
		},
		{
			name: "confidence clamped",
			text: `{"vertical": "hvac", "business_model": "recurring services", "confidence": 1.4}`,
			want: &model.CompanyClassification{Vertical: "hvac", BusinessModel: "recurring services", Confidence: 1.0},
		},
		{
			name:    "no json",
			text:    "I cannot classify this company.",
			wantErr: "no JSON in response",
		},
		{
			name:    "missing vertical",
			text:    `{"vertical": "", "business_model": "recurring services", "confidence": 0.5}`,
			wantErr: "missing vertical",
		},
		{
			name:    "missing business model",
			text:    `{"vertical": "hvac", "business_model": "", "confidence": 0.5}`,
			wantErr: "missing business_model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseClassification(tt.text)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUplift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    *model.UpliftAnalysis
		wantErr string
	}{
		{
			name: "bare json",
			text: `{"uplift_levers": ["pricing"], "impact_range": "medium", "confidence": 0.6}`,
			want: &model.UpliftAnalysis{UpliftLevers: []string{"pricing"}, ImpactRange: "medium", Confidence: 0.6},
		},
		{
			name: "surrounding prose",
			text: "Here is my analysis:\n{\"uplift_levers\": [], \"impact_range\": \"low\", \"confidence\": 0.2}\nHope this helps!",
			want: &model.UpliftAnalysis{UpliftLevers: []string{}, ImpactRange: "low", Confidence: 0.2},
		},
		{
			name: "confidence clamped high",
			text: `{"uplift_levers": [], "impact_range": "high", "confidence": 1.8}`,
			want: &model.UpliftAnalysis{UpliftLevers: []string{}, ImpactRange: "high", Confidence: 1.0},
		},
		{
			name: "confidence clamped low",
			text: `{"uplift_levers": [], "impact_range": "low", "confidence": -0.3}`,
			want: &model.UpliftAnalysis{UpliftLevers: []string{}, ImpactRange: "low", Confidence: 0},
		},
		{
			name:    "no json",
			text:    "I cannot evaluate this company.",
			wantErr: "no JSON in response",
		},
		{
			name:    "invalid impact range",
			text:    `{"uplift_levers": [], "impact_range": "huge", "confidence": 0.5}`,
			wantErr: `invalid impact_range "huge"`,
		},
		{
			name:    "malformed json",
			text:    `{"uplift_levers": [,], "impact_range": "low"}`,
			wantErr: "parse response JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseUplift(tt.text)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
