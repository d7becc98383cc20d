package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// Upload params.
const (
	ParamFilename    = "filename"
	ParamContent     = "content"
	ParamContentType = "contentType"
)

// JobSearchParams lists the query parameters the jobs endpoint accepts, in
// the order they are encoded.
var JobSearchParams = []string{
	"query", "search", "job_title", "company", "locations", "skills", "industry", "domain",
	"job_type", "work_mode", "experience_min", "experience_max", "salary_min", "salary_max",
	"internship", "limit", "page",
}

// ErrMissingCredential is returned when a call has no bearer token to forward.
var ErrMissingCredential = errors.New("missing bearer token")

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %d", e.StatusCode)
}

const maxErrorBody = 512

// Client talks to the JobMato backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client. A nil httpClient uses http.DefaultClient;
// deadlines come from the call context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) do(req *http.Request, token string) (any, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		return map[string]any{"message": "Request successful"}, nil
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path, token string, query url.Values) (any, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req, token)
}

// Profile fetches the caller's profile.
func (c *Client) Profile(ctx context.Context, token string) (any, error) {
	return c.get(ctx, "/api/rag/profile", token, nil)
}

// Resume fetches the caller's latest résumé.
func (c *Client) Resume(ctx context.Context, token string) (any, error) {
	return c.get(ctx, "/api/rag/resume", token, nil)
}

// SearchJobs queries the job index.
func (c *Client) SearchJobs(ctx context.Context, token string, params map[string]any) (any, error) {
	return c.get(ctx, "/api/rag/jobs", token, EncodeJobParams(params))
}

// UploadResume sends a résumé file as multipart field "resume".
func (c *Client) UploadResume(ctx context.Context, token, filename string, content []byte, contentType string) (any, error) {
	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="resume"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/resumes/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, token)
}

// ContentTypeFor maps a résumé filename to its MIME type.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/pdf"
	}
}

// EncodeJobParams turns dispatcher params into query values, skipping empty ones.
func EncodeJobParams(params map[string]any) url.Values {
	q := url.Values{}
	for _, key := range JobSearchParams {
		if s, ok := formatParam(params[key]); ok {
			q.Set(key, s)
		}
	}
	return q
}

func formatParam(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case []string:
		return strings.Join(x, ","), len(x) > 0
	case bool:
		return strconv.FormatBool(x), true
	case *bool:
		if x == nil {
			return "", false
		}
		return strconv.FormatBool(*x), true
	case int:
		return strconv.Itoa(x), true
	case *int:
		if x == nil {
			return "", false
		}
		return strconv.Itoa(*x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return fmt.Sprint(x), true
	}
}

type profileTool struct{ c *Client }

func (t profileTool) Name() domain.ToolName { return domain.ToolProfile }

func (t profileTool) Call(ctx context.Context, _ map[string]any, claims domain.AuthClaims) (any, error) {
	return t.c.Profile(ctx, claims.Token)
}

type resumeTool struct{ c *Client }

func (t resumeTool) Name() domain.ToolName { return domain.ToolResume }

func (t resumeTool) Call(ctx context.Context, _ map[string]any, claims domain.AuthClaims) (any, error) {
	return t.c.Resume(ctx, claims.Token)
}

type jobSearchTool struct{ c *Client }

func (t jobSearchTool) Name() domain.ToolName { return domain.ToolJobSearch }

func (t jobSearchTool) Call(ctx context.Context, params map[string]any, claims domain.AuthClaims) (any, error) {
	return t.c.SearchJobs(ctx, claims.Token, params)
}

type resumeUploadTool struct{ c *Client }

func (t resumeUploadTool) Name() domain.ToolName { return domain.ToolResumeUpload }

func (t resumeUploadTool) Call(ctx context.Context, params map[string]any, claims domain.AuthClaims) (any, error) {
	filename, _ := params[ParamFilename].(string)
	content, _ := params[ParamContent].([]byte)
	contentType, _ := params[ParamContentType].(string)
	if filename == "" || len(content) == 0 {
		return nil, errors.New("resume upload requires a filename and file content")
	}
	return t.c.UploadResume(ctx, claims.Token, filename, content, contentType)
}

// Tools returns the four backend capabilities bound to c.
func Tools(c *Client) []Tool {
	return []Tool{profileTool{c}, resumeTool{c}, jobSearchTool{c}, resumeUploadTool{c}}
}
