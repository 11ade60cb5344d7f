// Package aiclient talks to the generative language API that performs the
// two analysis stages. Each attempt builds its own transport so the proxy
// pairing chosen by the rotator is honored per call.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webscope-ai/domain-analyzer/model"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Request carries everything one attempt needs. Proxy and APIKey come from
// the rotator; Model from the stage's model cycle.
type Request struct {
	Domain string
	Model  string
	Proxy  model.ProxyEntry
	APIKey string

	// Content is the stage-one text fed into stage two. Empty for stage one.
	Content string
	// SegmentHint is echoed into the stage-two system prompt so the response
	// can be checked against it.
	SegmentHint string
}

// StageResult is the raw outcome of one successful call.
type StageResult struct {
	Text       string
	StatusCode int
	Elapsed    time.Duration

	// Grounding reports whether the upstream actually retrieved the site
	// during stage one ("URL_RETRIEVAL_STATUS_SUCCESS" when it did).
	Grounding string

	// RetryAfter carries the upstream's Retry-After wait on rate-limited
	// responses. Zero when the header was absent or unparsable.
	RetryAfter time.Duration
}

// Client is the AI collaborator boundary. Implementations must be safe for
// concurrent use.
type Client interface {
	// AnalyzeContent runs the stage-one content analysis for req.Domain.
	AnalyzeContent(ctx context.Context, req Request) (*StageResult, error)
	// ClassifyBusiness runs the stage-two structured classification over
	// req.Content.
	ClassifyBusiness(ctx context.Context, req Request) (*StageResult, error)
}

// Timeouts bounds one attempt. Zero values fall back to the defaults.
type Timeouts struct {
	Total   time.Duration
	Read    time.Duration
	Connect time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Total == 0 {
		t.Total = 250 * time.Second
	}
	if t.Read == 0 {
		t.Read = 240 * time.Second
	}
	if t.Connect == 0 {
		t.Connect = 6 * time.Second
	}
	return t
}

// HTTPClient implements Client against the generateContent endpoint.
type HTTPClient struct {
	baseURL  string
	timeouts Timeouts
}

// NewHTTPClient builds the production client.
func NewHTTPClient(timeouts Timeouts) *HTTPClient {
	return &HTTPClient{baseURL: defaultBaseURL, timeouts: timeouts.withDefaults()}
}

// generateContent request/response wire types, reduced to the fields used.
type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	Contents          []wireContent     `json:"contents"`
	Tools             []json.RawMessage `json:"tools,omitempty"`
	SystemInstruction *wireContent      `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any    `json:"generationConfig,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
		URLContextMetadata struct {
			URLMetadata []struct {
				URLRetrievalStatus string `json:"urlRetrievalStatus"`
			} `json:"urlMetadata"`
		} `json:"urlContextMetadata"`
	} `json:"candidates"`
}

// AnalyzeContent implements Client.
func (c *HTTPClient) AnalyzeContent(ctx context.Context, req Request) (*StageResult, error) {
	body := wireRequest{
		Contents: []wireContent{{
			Role: "user",
			Parts: []wirePart{{
				Text: fmt.Sprintf("Analyze website https://%s\n\n%s", req.Domain, Stage1Prompt()),
			}},
		}},
		Tools: []json.RawMessage{
			json.RawMessage(`{"urlContext":{}}`),
			json.RawMessage(`{"googleSearch":{}}`),
		},
		GenerationConfig: map[string]any{"temperature": 0.3},
	}
	return c.call(ctx, req, body)
}

// ClassifyBusiness implements Client.
func (c *HTTPClient) ClassifyBusiness(ctx context.Context, req Request) (*StageResult, error) {
	body := wireRequest{
		Contents: []wireContent{{
			Role: "user",
			Parts: []wirePart{{
				Text: fmt.Sprintf("Analyze content review of website %s: %s", req.Domain, req.Content),
			}},
		}},
		SystemInstruction: &wireContent{
			Parts: []wirePart{{Text: Stage2SystemPrompt(req.SegmentHint)}},
		},
		GenerationConfig: map[string]any{
			"temperature":      0.3,
			"responseMimeType": "application/json",
		},
	}
	return c.call(ctx, req, body)
}

func (c *HTTPClient) call(ctx context.Context, req Request, body wireRequest) (*StageResult, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("no model configured for request")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request payload: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, req.Model, req.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client, err := newAttemptClient(req.Proxy, c.timeouts)
	if err != nil {
		return nil, fmt.Errorf("building proxied client: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("calling model %s: %w", req.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &StageResult{StatusCode: resp.StatusCode, Elapsed: elapsed},
			fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Debug().
			Str("domain", req.Domain).
			Str("model", req.Model).
			Int("status", resp.StatusCode).
			Msg("Upstream returned non-OK status")
		return &StageResult{
				StatusCode: resp.StatusCode,
				Elapsed:    elapsed,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			},
			fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed wireResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &StageResult{StatusCode: resp.StatusCode, Elapsed: elapsed},
			fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return &StageResult{StatusCode: resp.StatusCode, Elapsed: elapsed},
			fmt.Errorf("decoding response: malformed candidate list")
	}

	cand := parsed.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}

	grounding := "UNKNOWN"
	if md := cand.URLContextMetadata.URLMetadata; len(md) > 0 {
		grounding = md[0].URLRetrievalStatus
	}

	return &StageResult{
		Text:       sb.String(),
		StatusCode: resp.StatusCode,
		Elapsed:    elapsed,
		Grounding:  grounding,
	}, nil
}

// parseRetryAfter reads a Retry-After header value, which carries either a
// delay in seconds or an HTTP date.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
