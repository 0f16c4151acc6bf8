package rtm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Logical endpoint keys. Each key resolves to an ordered list of candidate
// path templates; the client tries them in order and the first success wins.
const (
	EndpointTree               = "tree.get"
	EndpointFolderCreate       = "folder.create"
	EndpointFolderUpdate       = "folder.update"
	EndpointFolderDelete       = "folder.delete"
	EndpointEntityGet          = "entity.get"
	EndpointEntityCreate       = "entity.create"
	EndpointEntityUpdate       = "entity.update"
	EndpointEntityDelete       = "entity.delete"
	EndpointStepsGet           = "steps.get"
	EndpointStepsPut           = "steps.put"
	EndpointPlanTestCases      = "testplan.testcases"
	EndpointExecutionTestCases = "testexecution.testcases"
	EndpointIssueComment       = "issue.comment"
	EndpointIssueLink          = "issue.link"
	EndpointIssueSearch        = "issue.search"
	EndpointIssueAttachments   = "issue.attachments"
	EndpointMyself             = "myself"
)

// defaultTemplates holds the built-in candidate paths per logical key.
// RTM plugin routes come first, generic Jira REST routes last.
var defaultTemplates = map[string][]string{
	EndpointTree: {
		"/rest/rtm/1.0/api/tree/{treeType}?projectId={projectId}",
		"/rest/rtm/1.0/api/tree?projectId={projectId}&treeType={treeType}",
	},
	EndpointFolderCreate: {
		"/rest/rtm/1.0/api/tree/folder",
	},
	EndpointFolderUpdate: {
		"/rest/rtm/1.0/api/tree/folder/{folderId}",
	},
	EndpointFolderDelete: {
		"/rest/rtm/1.0/api/tree/folder/{folderId}",
	},
	EndpointEntityGet: {
		"/rest/rtm/1.0/api/{entity}/{key}",
		"/rest/api/2/issue/{key}",
	},
	EndpointEntityCreate: {
		"/rest/rtm/1.0/api/{entity}",
		"/rest/api/2/issue",
	},
	EndpointEntityUpdate: {
		"/rest/rtm/1.0/api/{entity}/{key}",
		"/rest/api/2/issue/{key}",
	},
	EndpointEntityDelete: {
		"/rest/rtm/1.0/api/{entity}/{key}",
		"/rest/api/2/issue/{key}",
	},
	EndpointStepsGet: {
		"/rest/rtm/1.0/api/test-case/{key}/steps",
		"/rest/rtm/1.0/api/test-case/steps?testCaseKey={key}",
	},
	EndpointStepsPut: {
		"/rest/rtm/1.0/api/test-case/{key}/steps",
	},
	EndpointPlanTestCases: {
		"/rest/rtm/1.0/api/test-plan/{key}/test-cases",
	},
	EndpointExecutionTestCases: {
		"/rest/rtm/1.0/api/test-execution/{key}/test-cases",
	},
	EndpointIssueComment: {
		"/rest/api/2/issue/{key}/comment",
	},
	EndpointIssueLink: {
		"/rest/api/2/issueLink",
	},
	EndpointIssueSearch: {
		"/rest/api/2/search?jql={jql}&maxResults={maxResults}",
	},
	EndpointIssueAttachments: {
		"/rest/api/2/issue/{key}?fields=attachment",
	},
	EndpointMyself: {
		"/rest/api/2/myself",
	},
}

// allowedPlaceholders is the per-key placeholder allow-list. Template
// overrides are validated against it at construction time so a typo in a
// config file fails fast instead of producing broken URLs at call time.
var allowedPlaceholders = map[string][]string{
	EndpointTree:               {"projectId", "treeType"},
	EndpointFolderCreate:       {},
	EndpointFolderUpdate:       {"folderId"},
	EndpointFolderDelete:       {"folderId"},
	EndpointEntityGet:          {"entity", "key"},
	EndpointEntityCreate:       {"entity"},
	EndpointEntityUpdate:       {"entity", "key"},
	EndpointEntityDelete:       {"entity", "key"},
	EndpointStepsGet:           {"key"},
	EndpointStepsPut:           {"key"},
	EndpointPlanTestCases:      {"key"},
	EndpointExecutionTestCases: {"key"},
	EndpointIssueComment:       {"key"},
	EndpointIssueLink:          {},
	EndpointIssueSearch:        {"jql", "maxResults"},
	EndpointIssueAttachments:   {"key"},
	EndpointMyself:             {},
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9]*)\}`)

// RequestError reports a failed remote call, including the body the server
// returned so callers can surface the real complaint.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ClientConfig configures a Client. Templates entries override the built-in
// candidate list for a logical key wholesale.
type ClientConfig struct {
	BaseURL   string
	Username  string
	Token     string
	Timeout   time.Duration
	Templates map[string][]string
}

// Client is a thin HTTP client over the RTM and Jira REST APIs. It is safe
// for concurrent use.
type Client struct {
	baseURL   string
	username  string
	token     string
	http      *http.Client
	templates map[string][]string
}

// NewClient validates cfg and builds a client. Template overrides are
// checked against the per-key placeholder allow-list.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("rtm: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("rtm: invalid base URL %q: %w", cfg.BaseURL, err)
	}

	templates := make(map[string][]string, len(defaultTemplates))
	for key, paths := range defaultTemplates {
		templates[key] = paths
	}
	for key, paths := range cfg.Templates {
		allowed, ok := allowedPlaceholders[key]
		if !ok {
			return nil, fmt.Errorf("rtm: unknown endpoint %q in template overrides", key)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("rtm: endpoint %q has no candidate templates", key)
		}
		for _, tmpl := range paths {
			if err := validateTemplate(key, tmpl, allowed); err != nil {
				return nil, err
			}
		}
		templates[key] = paths
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   base,
		username:  cfg.Username,
		token:     cfg.Token,
		http:      &http.Client{Timeout: timeout},
		templates: templates,
	}, nil
}

func validateTemplate(key, tmpl string, allowed []string) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		found := false
		for _, a := range allowed {
			if a == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("rtm: endpoint %q: placeholder {%s} not allowed (allowed: %s)",
				key, name, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// CallLogical resolves the candidate templates for key and tries each in
// order with the given method and payload. The first 2xx response wins; the
// error of the last candidate is returned when all fail. Every placeholder
// in a template must have a value in params.
func (c *Client) CallLogical(ctx context.Context, key, method string, params map[string]string, payload any) ([]byte, error) {
	templates, ok := c.templates[key]
	if !ok || len(templates) == 0 {
		return nil, fmt.Errorf("rtm: no templates for endpoint %q", key)
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("rtm: marshal %s payload: %w", key, err)
		}
	}

	var lastErr error
	for _, tmpl := range templates {
		path, err := expandTemplate(tmpl, params)
		if err != nil {
			return nil, fmt.Errorf("rtm: endpoint %q: %w", key, err)
		}
		resp, err := c.do(ctx, method, c.baseURL+path, body)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func expandTemplate(tmpl string, params map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing placeholder values: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, fullURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &RequestError{Method: method, URL: fullURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.token != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, URL: fullURL, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Method: method, URL: fullURL, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// entityParams builds the params for entity endpoints. Unknown entity types
// get an empty segment; the generic issue candidates carry no {entity}
// placeholder so they still resolve.
func entityParams(entityType, key string) map[string]string {
	p := map[string]string{"key": key}
	if seg, ok := entitySegments[entityType]; ok {
		p["entity"] = seg
	}
	return p
}

// entityTemplatesFor drops candidates whose placeholders cannot be filled
// for this entity type. Unknown types keep only the generic issue routes.
func (c *Client) callEntity(ctx context.Context, endpoint, method, entityType, key string, payload any) ([]byte, error) {
	params := entityParams(entityType, key)
	if _, ok := params["entity"]; ok {
		return c.CallLogical(ctx, endpoint, method, params, payload)
	}
	templates := c.templates[endpoint]
	var generic []string
	for _, tmpl := range templates {
		if !strings.Contains(tmpl, "{entity}") {
			generic = append(generic, tmpl)
		}
	}
	if len(generic) == 0 {
		return nil, fmt.Errorf("rtm: endpoint %q has no route for entity type %q", endpoint, entityType)
	}
	tmp := *c
	tmp.templates = map[string][]string{endpoint: generic}
	return tmp.CallLogical(ctx, endpoint, method, params, payload)
}

// GetTree fetches one navigation tree for a project.
func (c *Client) GetTree(ctx context.Context, projectID int64, treeType string) ([]byte, error) {
	return c.CallLogical(ctx, EndpointTree, http.MethodGet, map[string]string{
		"projectId": fmt.Sprintf("%d", projectID),
		"treeType":  treeType,
	}, nil)
}

// CreateFolder creates a remote tree folder.
func (c *Client) CreateFolder(ctx context.Context, payload any) ([]byte, error) {
	return c.CallLogical(ctx, EndpointFolderCreate, http.MethodPost, nil, payload)
}

// UpdateFolder renames or moves a remote tree folder.
func (c *Client) UpdateFolder(ctx context.Context, folderID string, payload any) ([]byte, error) {
	return c.CallLogical(ctx, EndpointFolderUpdate, http.MethodPut,
		map[string]string{"folderId": folderID}, payload)
}

// DeleteFolder removes a remote tree folder.
func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	_, err := c.CallLogical(ctx, EndpointFolderDelete, http.MethodDelete,
		map[string]string{"folderId": folderID}, nil)
	return err
}

// GetEntity fetches one issue by key.
func (c *Client) GetEntity(ctx context.Context, entityType, key string) ([]byte, error) {
	return c.callEntity(ctx, EndpointEntityGet, http.MethodGet, entityType, key, nil)
}

// CreateEntity creates a remote issue and returns the creation response,
// which carries the new key.
func (c *Client) CreateEntity(ctx context.Context, entityType string, payload any) ([]byte, error) {
	return c.callEntity(ctx, EndpointEntityCreate, http.MethodPost, entityType, "", payload)
}

// UpdateEntity updates a remote issue by key.
func (c *Client) UpdateEntity(ctx context.Context, entityType, key string, payload any) ([]byte, error) {
	return c.callEntity(ctx, EndpointEntityUpdate, http.MethodPut, entityType, key, payload)
}

// DeleteEntity removes a remote issue by key.
func (c *Client) DeleteEntity(ctx context.Context, entityType, key string) error {
	_, err := c.callEntity(ctx, EndpointEntityDelete, http.MethodDelete, entityType, key, nil)
	return err
}

// GetSteps fetches the steps of a remote test case.
func (c *Client) GetSteps(ctx context.Context, testCaseKey string) ([]byte, error) {
	return c.CallLogical(ctx, EndpointStepsGet, http.MethodGet,
		map[string]string{"key": testCaseKey}, nil)
}

// PutSteps replaces the steps of a remote test case.
func (c *Client) PutSteps(ctx context.Context, testCaseKey string, payload any) ([]byte, error) {
	return c.CallLogical(ctx, EndpointStepsPut, http.MethodPut,
		map[string]string{"key": testCaseKey}, payload)
}

// GetTestPlanTestCases fetches the test cases attached to a remote test plan.
func (c *Client) GetTestPlanTestCases(ctx context.Context, planKey string) ([]byte, error) {
	return c.CallLogical(ctx, EndpointPlanTestCases, http.MethodGet,
		map[string]string{"key": planKey}, nil)
}

// PutTestPlanTestCases replaces the test cases attached to a remote test plan.
func (c *Client) PutTestPlanTestCases(ctx context.Context, planKey string, payload any) ([]byte, error) {
	return c.CallLogical(ctx, EndpointPlanTestCases, http.MethodPut,
		map[string]string{"key": planKey}, payload)
}

// GetTestExecutionTestCases fetches the test case runs of a remote execution.
func (c *Client) GetTestExecutionTestCases(ctx context.Context, execKey string) ([]byte, error) {
	return c.CallLogical(ctx, EndpointExecutionTestCases, http.MethodGet,
		map[string]string{"key": execKey}, nil)
}

// PutTestExecutionTestCases replaces the test case runs of a remote execution.
func (c *Client) PutTestExecutionTestCases(ctx context.Context, execKey string, payload any) ([]byte, error) {
	return c.CallLogical(ctx, EndpointExecutionTestCases, http.MethodPut,
		map[string]string{"key": execKey}, payload)
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	_, err := c.CallLogical(ctx, EndpointIssueComment, http.MethodPost,
		map[string]string{"key": key}, map[string]string{"body": body})
	return err
}

// CreateIssueLink links two issues with the named Jira link type.
func (c *Client) CreateIssueLink(ctx context.Context, linkType, inwardKey, outwardKey string) error {
	_, err := c.CallLogical(ctx, EndpointIssueLink, http.MethodPost, nil, map[string]any{
		"type":         map[string]string{"name": linkType},
		"inwardIssue":  map[string]string{"key": inwardKey},
		"outwardIssue": map[string]string{"key": outwardKey},
	})
	return err
}

// SearchJQL runs a JQL query and returns the raw search response.
func (c *Client) SearchJQL(ctx context.Context, jql string, maxResults int) ([]byte, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	return c.CallLogical(ctx, EndpointIssueSearch, http.MethodGet, map[string]string{
		"jql":        url.QueryEscape(jql),
		"maxResults": fmt.Sprintf("%d", maxResults),
	}, nil)
}

// GetAttachments fetches the attachment field of an issue.
func (c *Client) GetAttachments(ctx context.Context, key string) ([]byte, error) {
	return c.CallLogical(ctx, EndpointIssueAttachments, http.MethodGet,
		map[string]string{"key": key}, nil)
}

// CheckAuth verifies credentials against the instance.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, err := c.CallLogical(ctx, EndpointMyself, http.MethodGet, nil, nil)
	return err
}
