package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/workspace"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// openaiBackend drives any OpenAI-compatible chat-completion API. The model
// cannot touch the filesystem itself, so the response contract asks for
// fenced file blocks which the adapter applies to the workspace.
type openaiBackend struct {
	client  *http.Client
	pricing *pricing.Table
}

func (o *openaiBackend) Name() string { return "openai" }

const openaiSystemPrompt = `You are a coding agent operating on a repository checkout.
Apply the requested change by emitting one fenced block per file you want to
write, in this exact form:

` + "```file:relative/path/to/file\n<full new file content>\n```" + `

Blocks replace the whole file. Do not emit blocks for files you leave alone.`

func (o *openaiBackend) Run(ctx context.Context, prompt string, ws *workspace.Handle, cfg *config.Agent) (*Result, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	reqBody := map[string]any{
		"model":       cfg.Model,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": openaiSystemPrompt},
			{"role": "user", "content": prompt},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKeyEnv != "" {
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("api key env %s is not set", cfg.APIKeyEnv)
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("chat API returned %d: %v", resp.StatusCode, errBody)
	}

	var chatResult struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		// Pointer so an omitted usage block stays distinguishable from a
		// reported zero.
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResult); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(chatResult.Choices) == 0 {
		return nil, fmt.Errorf("no choices in chat response")
	}
	content := chatResult.Choices[0].Message.Content

	writes, err := applyFileBlocks(content, ws.Dir)
	if err != nil {
		return nil, fmt.Errorf("applying response to workspace: %w", err)
	}

	tel := NewTelemetry()
	tel.ToolCalls = len(writes)
	if chatResult.Usage != nil {
		tel.TokensIn = chatResult.Usage.PromptTokens
		tel.TokensOut = chatResult.Usage.CompletionTokens
		if cost, ok := o.pricing.CostForModel(cfg.Model, tel.TokensIn, tel.TokensOut); ok {
			tel.CostUSD = cost
		}
	}

	calls := make([]ToolCall, 0, len(writes))
	for _, path := range writes {
		calls = append(calls, ToolCall{Name: "write_file", Detail: path})
	}

	return &Result{
		Transcript: content,
		Telemetry:  tel,
		ToolCalls:  calls,
	}, nil
}

// applyFileBlocks writes every ```file:path``` block in the response into the
// workspace. Returns the relative paths written, in response order.
func applyFileBlocks(content, workDir string) ([]string, error) {
	var written []string
	rest := content
	for {
		idx := strings.Index(rest, "```file:")
		if idx < 0 {
			break
		}
		rest = rest[idx+len("```file:"):]

		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			break
		}
		rel := strings.TrimSpace(rest[:nl])
		rest = rest[nl+1:]

		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		body := rest[:end]
		rest = rest[end+3:]

		clean := filepath.Clean(rel)
		if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return written, fmt.Errorf("refusing path %q outside workspace", rel)
		}
		target := filepath.Join(workDir, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("creating parent for %s: %w", clean, err)
		}
		if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", clean, err)
		}
		written = append(written, clean)
	}
	return written, nil
}
