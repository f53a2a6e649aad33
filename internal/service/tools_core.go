package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/ChainForge/internal/domain/artifact"
	"github.com/Strob0t/ChainForge/internal/domain/sandbox"
)

// Core tool names. Agent definitions with inherit_core receive this set minus
// their exclusions.
const (
	ToolCurrentTime  = "current_time"
	ToolWebSearch    = "web_search"
	ToolWriteFile    = "write_file"
	ToolReadArtifact = "read_artifact"
	ToolExecuteCode  = "execute_code"
)

// RegisterCoreTools mounts the built-in tool set on the registry.
func RegisterCoreTools(reg *ToolRegistry, artifacts *ArtifactService, sandboxes *SandboxService, searcher Searcher) {
	reg.RegisterCore(&currentTimeTool{})
	reg.RegisterCore(&webSearchTool{searcher: searcher})
	reg.RegisterCore(&writeFileTool{artifacts: artifacts})
	reg.RegisterCore(&readArtifactTool{artifacts: artifacts})
	reg.RegisterCore(&executeCodeTool{sandboxes: sandboxes})
}

// --- current_time ---

type currentTimeTool struct{}

func (t *currentTimeTool) Name() string        { return ToolCurrentTime }
func (t *currentTimeTool) Description() string { return "Returns the current date and time." }

func (t *currentTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC.",
			},
		},
	}
}

func (t *currentTimeTool) Invoke(_ context.Context, args json.RawMessage, _ *SessionContext) (string, []string, error) {
	var in struct {
		Timezone string `json:"timezone"`
	}
	_ = json.Unmarshal(args, &in)

	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return "", nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}
	return time.Now().In(loc).Format("Monday, 2006-01-02 15:04:05 MST"), nil, nil
}

// --- web_search ---

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is the external web search dependency of the web_search tool.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

type webSearchTool struct {
	searcher Searcher
}

func (t *webSearchTool) Name() string { return ToolWebSearch }

func (t *webSearchTool) Description() string {
	return "Searches the web and returns titles, URLs and snippets."
}

func (t *webSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query."},
			"limit": map[string]any{"type": "integer", "description": "Max results, default 5."},
		},
		"required": []string{"query"},
	}
}

func (t *webSearchTool) Invoke(ctx context.Context, args json.RawMessage, _ *SessionContext) (string, []string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Query == "" {
		return "", nil, fmt.Errorf("query is required")
	}
	if t.searcher == nil {
		return "", nil, fmt.Errorf("web search is not configured")
	}
	limit := in.Limit
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	results, err := t.searcher.Search(ctx, in.Query, limit)
	if err != nil {
		return "", nil, fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", nil, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String(), nil, nil
}

// --- write_file ---

type writeFileTool struct {
	artifacts *ArtifactService
}

func (t *writeFileTool) Name() string { return ToolWriteFile }

func (t *writeFileTool) Description() string {
	return "Persists content as a durable artifact. Pass artifact_id to create a new version of an existing artifact."
}

func (t *writeFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string", "description": "File name including extension."},
			"content":     map[string]any{"type": "string", "description": "File content."},
			"type":        map[string]any{"type": "string", "description": "Artifact type. Inferred from the extension when omitted."},
			"artifact_id": map[string]any{"type": "string", "description": "Existing artifact id to version on top of."},
		},
		"required": []string{"name", "content"},
	}
}

func (t *writeFileTool) Invoke(ctx context.Context, args json.RawMessage, sctx *SessionContext) (string, []string, error) {
	var in struct {
		Name       string `json:"name"`
		Content    string `json:"content"`
		Type       string `json:"type"`
		ArtifactID string `json:"artifact_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Name == "" || in.Content == "" {
		return "", nil, fmt.Errorf("name and content are required")
	}
	if sctx.Advisory {
		return "", nil, fmt.Errorf("advisory sessions may not create artifacts")
	}

	artType := artifact.Type(in.Type)
	if in.Type == "" {
		artType = inferArtifactType(in.Name)
	} else if !artifact.ValidType(in.Type) {
		return "", nil, fmt.Errorf("unknown artifact type %q", in.Type)
	}

	req := artifact.CreateRequest{
		Type:      artType,
		Name:      in.Name,
		MimeType:  mimeTypeFor(in.Name),
		SessionID: sctx.SessionID,
		AgentID:   sctx.AgentID,
		Tool:      ToolWriteFile,
		Source:    artifact.SourceToolExecution,
		Content:   []byte(in.Content),
	}

	var (
		a   *artifact.Artifact
		err error
	)
	if in.ArtifactID != "" {
		a, err = t.artifacts.CreateVersion(ctx, in.ArtifactID, req)
	} else {
		a, err = t.artifacts.Create(ctx, req)
	}
	if err != nil {
		return "", nil, fmt.Errorf("write failed: %w", err)
	}
	return fmt.Sprintf("Saved %s as artifact %s (version %d, %d bytes).", a.Name, a.ID, a.Version, a.SizeBytes), []string{a.ID}, nil
}

// --- read_artifact ---

type readArtifactTool struct {
	artifacts *ArtifactService
}

func (t *readArtifactTool) Name() string { return ToolReadArtifact }

func (t *readArtifactTool) Description() string {
	return "Reads the content of a stored artifact by id."
}

func (t *readArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"artifact_id": map[string]any{"type": "string", "description": "Artifact id to read."},
		},
		"required": []string{"artifact_id"},
	}
}

func (t *readArtifactTool) Invoke(ctx context.Context, args json.RawMessage, _ *SessionContext) (string, []string, error) {
	var in struct {
		ArtifactID string `json:"artifact_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.ArtifactID == "" {
		return "", nil, fmt.Errorf("artifact_id is required")
	}

	a, content, err := t.artifacts.GetContent(ctx, in.ArtifactID)
	if err != nil {
		return "", nil, fmt.Errorf("read failed: %w", err)
	}
	if !utf8.Valid(content) {
		return fmt.Sprintf("%s is binary (%s, %d bytes); content not shown.", a.Name, a.MimeType, a.SizeBytes), nil, nil
	}
	return string(content), nil, nil
}

// --- execute_code ---

type executeCodeTool struct {
	sandboxes *SandboxService
}

func (t *executeCodeTool) Name() string { return ToolExecuteCode }

func (t *executeCodeTool) Description() string {
	return "Runs code in the user's isolated sandbox and returns stdout and stderr."
}

func (t *executeCodeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":     map[string]any{"type": "string", "description": "Code to execute."},
			"language": map[string]any{"type": "string", "description": "python or bash, default python."},
		},
		"required": []string{"code"},
	}
}

func (t *executeCodeTool) Invoke(ctx context.Context, args json.RawMessage, sctx *SessionContext) (string, []string, error) {
	var in struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Code == "" {
		return "", nil, fmt.Errorf("code is required")
	}

	sb, err := t.sandboxes.Acquire(ctx, sctx.UserID)
	if err != nil {
		return "", nil, fmt.Errorf("sandbox unavailable: %w", err)
	}
	res, err := t.sandboxes.Execute(ctx, sb, in.Code, in.Language)
	if err != nil {
		return "", nil, fmt.Errorf("execution failed: %w", err)
	}
	return formatExecResult(res), nil, nil
}

// formatExecResult renders an execution result for the model. Timeouts and
// resource overruns come back as readable text so the agent can adapt.
func formatExecResult(res *sandbox.ExecutionResult) string {
	var b strings.Builder
	switch res.Outcome {
	case sandbox.OutcomeTimeout:
		b.WriteString("Execution timed out. Partial output follows.\n")
	case sandbox.OutcomeResourceExceeded:
		b.WriteString("Execution exceeded the sandbox resource limits and was killed.\n")
	case sandbox.OutcomeError:
		fmt.Fprintf(&b, "Execution failed with exit code %d.\n", res.ExitCode)
	}
	if res.Stdout != "" {
		b.WriteString(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if res.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(res.Stderr)
	}
	if b.Len() == 0 {
		return "Execution completed with no output."
	}
	return strings.TrimRight(b.String(), "\n")
}

// inferArtifactType maps a file extension to an artifact type.
func inferArtifactType(name string) artifact.Type {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return artifact.TypeImage
	case ".mp4", ".webm", ".mov":
		return artifact.TypeVideo
	case ".mp3", ".wav", ".ogg":
		return artifact.TypeAudio
	case ".html", ".htm":
		return artifact.TypeHTML
	case ".pptx", ".ppt":
		return artifact.TypePresentation
	case ".xlsx", ".csv":
		return artifact.TypeSpreadsheet
	case ".md", ".txt", ".pdf", ".docx":
		return artifact.TypeDocument
	case ".py", ".go", ".js", ".ts", ".sh", ".sql", ".json", ".yaml", ".yml":
		return artifact.TypeCode
	default:
		return artifact.TypeFile
	}
}

// mimeTypeFor returns a content type for common extensions.
func mimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return "text/html"
	case ".md":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
