// Package litellm implements the completion provider port against a LiteLLM
// proxy, which exposes an OpenAI-compatible chat completions API for every
// configured upstream provider.
package litellm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ChainForge/internal/port/completion"
	"github.com/Strob0t/ChainForge/internal/resilience"
)

const costHeader = "x-litellm-response-cost"

// Client talks to the LiteLLM proxy chat completions API.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LiteLLM completion client.
func NewClient(baseURL, masterKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// wire types for the OpenAI-compatible API.

type wireMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Temperature   float64       `json:"temperature,omitempty"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

func buildWireRequest(req completion.Request, stream bool) wireRequest {
	// LiteLLM routes by "provider/model" when a provider prefix is present.
	model := req.Model
	if req.Provider != "" && !strings.Contains(model, "/") {
		model = req.Provider + "/" + model
	}

	wr := wireRequest{
		Model:       model,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		})
	}
	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if stream {
		wr.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}
	return wr
}

// Complete returns the provider's decision for the given request.
func (c *Client) Complete(ctx context.Context, req completion.Request) (*completion.Action, error) {
	body, err := json.Marshal(buildWireRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var action *completion.Action
	call := func() error {
		resp, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm error %d: %s", resp.StatusCode, string(data))
		}

		var wr wireResponse
		if err := json.Unmarshal(data, &wr); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		if len(wr.Choices) == 0 {
			return fmt.Errorf("litellm returned no choices")
		}

		action = toAction(wr.Choices[0].Message.Content, wr.Choices[0].Message.ToolCalls, wr.Usage, resp.Header.Get(costHeader))
		return nil
	}

	if err := c.execute(call); err != nil {
		return nil, err
	}
	return action, nil
}

// Stream invokes onDelta for each fragment and returns the terminal action
// once the stream completes. Tool call arguments arrive in fragments and are
// assembled before the terminal delta is emitted.
func (c *Client) Stream(ctx context.Context, req completion.Request, onDelta func(completion.Delta)) (*completion.Action, error) {
	body, err := json.Marshal(buildWireRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var action *completion.Action
	call := func() error {
		resp, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("litellm error %d: %s", resp.StatusCode, string(data))
		}

		var (
			text     strings.Builder
			toolID   string
			toolName string
			toolArgs strings.Builder
			usage    wireUsage
		)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk wireChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				return fmt.Errorf("unmarshal stream chunk: %w", err)
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				text.WriteString(delta.Content)
				onDelta(completion.Delta{Text: delta.Content})
			}
			for _, tc := range delta.ToolCalls {
				if tc.ID != "" {
					toolID = tc.ID
				}
				if tc.Function.Name != "" {
					toolName = tc.Function.Name
				}
				toolArgs.WriteString(tc.Function.Arguments)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		var calls []wireToolCall
		if toolName != "" {
			var tc wireToolCall
			tc.ID = toolID
			tc.Function.Name = toolName
			tc.Function.Arguments = toolArgs.String()
			calls = append(calls, tc)
		}

		action = toAction(text.String(), calls, usage, resp.Header.Get(costHeader))
		onDelta(completion.Delta{Terminal: true, Action: action})
		return nil
	}

	if err := c.execute(call); err != nil {
		return nil, err
	}
	return action, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

func (c *Client) execute(call func() error) error {
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

// toAction converts a wire response into the engine's Action. A tool call
// wins over text; the loop treats text-only responses as final answers.
func toAction(text string, calls []wireToolCall, usage wireUsage, costHdr string) *completion.Action {
	action := &completion.Action{
		Usage: completion.Usage{
			TokensIn:  usage.PromptTokens,
			TokensOut: usage.CompletionTokens,
		},
	}
	if costHdr != "" {
		if cost, err := strconv.ParseFloat(costHdr, 64); err == nil {
			action.Usage.CostUSD = cost
		}
	}

	if len(calls) > 0 {
		tc := calls[0]
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		action.ToolCall = &completion.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(args),
		}
		return action
	}

	action.FinalText = text
	return action
}
