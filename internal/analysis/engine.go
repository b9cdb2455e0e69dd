// Package analysis turns normalized device results into a structured bug
// report. The primary path asks an LLM endpoint for the analysis; every
// failure there is absorbed by a deterministic rule-based fallback, so
// callers never see an analysis error.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
)

const (
	defaultEndpoint = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel    = "llama-3.1-8b-instant"

	systemPrompt = "You are an expert Android developer and QA engineer. " +
		"Analyze test results and provide actionable bug fixes and recommendations. " +
		"Always respond with valid JSON in the exact format requested."
)

// EngineOptions holds the dependencies for creating an Engine.
type EngineOptions struct {
	// APIKey authenticates against the completion endpoint. When empty the
	// engine skips the AI path entirely and always uses the fallback.
	APIKey     string
	Endpoint   string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Engine implements core.Analyzer.
type Engine struct {
	apiKey   string
	endpoint string
	model    string
	hc       *http.Client
	logger   *slog.Logger
}

var _ core.Analyzer = (*Engine)(nil)

// NewEngine creates a new analysis engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		apiKey:   opts.APIKey,
		endpoint: opts.Endpoint,
		model:    opts.Model,
		hc:       opts.HTTPClient,
		logger:   opts.Logger.With("component", "analysis"),
	}
}

// Analyze produces a report for the given results. It never fails: when the
// AI path is unusable the deterministic fallback supplies the report.
func (e *Engine) Analyze(ctx context.Context, params core.AnalyzeParams) *model.Report {
	if e.apiKey != "" {
		report, err := e.analyzeWithModel(ctx, params)
		if err == nil {
			return report
		}
		e.logger.WarnContext(ctx, "model analysis unavailable, using rule-based fallback",
			"error", err,
		)
	}
	return fallbackAnalyze(params.Results)
}

// chat completion wire types, OpenAI-compatible.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Messages       []chatMessage  `json:"messages"`
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// modelReport is the JSON shape the prompt instructs the model to produce.
type modelReport struct {
	Summary string `json:"summary"`
	Issues  []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
		Fix         string `json:"fix"`
		Device      string `json:"device"`
	} `json:"issues"`
}

func (e *Engine) analyzeWithModel(ctx context.Context, params core.AnalyzeParams) (*model.Report, error) {
	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(params)},
		},
		Model:          e.model,
		Temperature:    0.1,
		MaxTokens:      2048,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion endpoint returned HTTP %d", resp.StatusCode)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("empty completion")
	}

	var parsed modelReport
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("malformed completion JSON: %w", err)
	}
	if parsed.Summary == "" {
		return nil, fmt.Errorf("completion missing summary")
	}

	report := &model.Report{
		Summary:     parsed.Summary,
		PassRate:    passRate(params.Results),
		Issues:      make([]model.Issue, 0, len(parsed.Issues)),
		GeneratedBy: model.ReportSourceAI,
	}
	for _, issue := range parsed.Issues {
		severity := model.IssueSeverity(issue.Severity)
		if !severity.Valid() {
			severity = model.SeverityMedium
		}
		out := model.Issue{
			Title:       issue.Title,
			Description: issue.Description,
			Severity:    severity,
			Fix:         issue.Fix,
		}
		if issue.Device != "" {
			device := issue.Device
			out.DeviceID = &device
		}
		report.Issues = append(report.Issues, out)
	}
	return report, nil
}
