package flexicapture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zombor/mobile-capture/internal/dispatch"
)

const (
	mobileAppPath    = "/flexicapture12/Server/MobileApp"
	authTicketHeader = "AuthTicket"
)

var (
	ErrMissingURL         = errors.New("server url is required")
	ErrMissingCredentials = errors.New("username and password or an auth ticket are required")
	ErrNoFiles            = errors.New("no files to send")
)

// Credentials identify a user on a FlexiCapture server. A non-empty
// AuthTicket takes precedence over Username and Password.
type Credentials struct {
	URL        string
	Tenant     string
	Username   string
	Password   string
	AuthTicket string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingURL
	}
	if c.AuthTicket == "" && (c.Username == "" || c.Password == "") {
		return ErrMissingCredentials
	}
	return nil
}

// ServerError is returned for any non-2xx response
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("flexicapture server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("flexicapture server error (status %d): %s", e.StatusCode, e.Message)
}

// Client talks to the FlexiCapture mobile application API. Every request is
// tracked until it finishes so CancelAllRequests can abort it.
type Client struct {
	httpClient *http.Client
	queue      *dispatch.Queue

	mu       sync.Mutex
	nextID   uint64
	requests map[uint64]context.CancelFunc
}

// NewClient creates a client delivering async callbacks on queue. A nil
// httpClient gets a default with a 60 second timeout.
func NewClient(queue *dispatch.Queue, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		queue:      queue,
		requests:   make(map[uint64]context.CancelFunc),
	}
}

type authResponse struct {
	AuthTicket string `json:"authTicket"`
}

type projectsResponse struct {
	Projects []struct {
		Name string `json:"name"`
	} `json:"projects"`
}

// Authenticate exchanges credentials for an auth ticket
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	ctx, id := c.begin(ctx)
	defer c.finish(id)
	return c.authenticate(ctx, creds)
}

// ListProjects returns the current auth ticket and the names of the projects
// available to the user.
func (c *Client) ListProjects(ctx context.Context, creds Credentials) (string, []string, error) {
	ctx, id := c.begin(ctx)
	defer c.finish(id)
	return c.listProjects(ctx, creds)
}

// SendFiles uploads files as one document to project and returns the current auth ticket
func (c *Client) SendFiles(ctx context.Context, creds Credentials, project string, files []string) (string, error) {
	ctx, id := c.begin(ctx)
	defer c.finish(id)
	return c.sendFiles(ctx, creds, project, files)
}

// RequestProjectsList is the callback form of ListProjects. Exactly one of
// success or fail runs on the dispatch queue, unless the request is
// cancelled first, in which case neither does.
func (c *Client) RequestProjectsList(creds Credentials, success func(ticket string, projects []string), fail func(error)) {
	ctx, id := c.begin(context.Background())
	go func() {
		ticket, projects, err := c.listProjects(ctx, creds)
		c.complete(id, func() {
			if err != nil {
				fail(err)
				return
			}
			success(ticket, projects)
		})
	}()
}

// SendFilesAsync is the callback form of SendFiles
func (c *Client) SendFilesAsync(creds Credentials, project string, files []string, success func(ticket string), fail func(error)) {
	ctx, id := c.begin(context.Background())
	go func() {
		ticket, err := c.sendFiles(ctx, creds, project, files)
		c.complete(id, func() {
			if err != nil {
				fail(err)
				return
			}
			success(ticket)
		})
	}()
}

// CancelAllRequests aborts every request in flight. Callbacks of cancelled
// async requests are never called, even if they were already queued.
func (c *Client) CancelAllRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) > 0 {
		slog.Info("Cancelling flexicapture requests", "count", len(c.requests))
	}
	for id, cancel := range c.requests {
		cancel()
		delete(c.requests, id)
	}
}

// InFlight returns the number of tracked requests
func (c *Client) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *Client) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.requests[c.nextID] = cancel
	return ctx, c.nextID
}

// finish untracks a request. It reports false if the request was already
// cancelled or finished.
func (c *Client) finish(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.requests[id]
	if !ok {
		return false
	}
	delete(c.requests, id)
	cancel()
	return true
}

// complete schedules fn on the queue. The request is untracked when fn's
// turn comes, so a cancel in between turns fn into a no-op.
func (c *Client) complete(id uint64, fn func()) {
	deliver := func() {
		if !c.finish(id) {
			slog.Debug("Dropping callback for cancelled flexicapture request", "request", id)
			return
		}
		fn()
	}
	if c.queue == nil || !c.queue.Async(deliver) {
		deliver()
	}
}

func (c *Client) authenticate(ctx context.Context, creds Credentials) (string, error) {
	if err := creds.validate(); err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, creds, http.MethodPost, "/auth", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var auth authResponse
	// An empty body is fine when the ticket comes in the header
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("decoding auth response: %w", err)
	}
	if auth.AuthTicket == "" {
		auth.AuthTicket = ticketFrom(resp, creds)
	}
	if auth.AuthTicket == "" {
		return "", &ServerError{StatusCode: resp.StatusCode, Message: "no auth ticket in response"}
	}
	return auth.AuthTicket, nil
}

func (c *Client) listProjects(ctx context.Context, creds Credentials) (string, []string, error) {
	if err := creds.validate(); err != nil {
		return "", nil, err
	}
	req, err := c.newRequest(ctx, creds, http.MethodGet, "/projects", nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	var body projectsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", nil, fmt.Errorf("decoding projects response: %w", err)
	}
	projects := make([]string, 0, len(body.Projects))
	for _, p := range body.Projects {
		if p.Name != "" {
			projects = append(projects, p.Name)
		}
	}
	return ticketFrom(resp, creds), projects, nil
}

func (c *Client) sendFiles(ctx context.Context, creds Credentials, project string, files []string) (string, error) {
	if err := creds.validate(); err != nil {
		return "", err
	}
	if project == "" {
		return "", errors.New("project name is required")
	}
	if len(files) == 0 {
		return "", ErrNoFiles
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return "", fmt.Errorf("checking file: %w", err)
		}
	}

	body, contentType := multipartBody(files)
	defer body.Close()

	req, err := c.newRequest(ctx, creds, http.MethodPost, "/projects/"+url.PathEscape(project)+"/documents", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	slog.Info("Files sent to flexicapture", "project", project, "files", len(files))
	return ticketFrom(resp, creds), nil
}

// multipartBody streams files as "file" parts so they are never held in memory
func multipartBody(files []string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		for _, f := range files {
			if err := writeFilePart(mw, f); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()
	return pr, mw.FormDataContentType()
}

func writeFilePart(mw *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copying file: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, creds Credentials, method, path string, body io.Reader) (*http.Request, error) {
	endpoint, err := url.Parse(strings.TrimRight(creds.URL, "/") + mobileAppPath + path)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if creds.Tenant != "" {
		q := endpoint.Query()
		q.Set("Tenant", creds.Tenant)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if creds.AuthTicket != "" {
		req.Header.Set("Authorization", "Bearer "+creds.AuthTicket)
	} else {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	return req, nil
}

// do sends req and turns non-2xx responses into a *ServerError
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling flexicapture API: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// ticketFrom prefers a ticket issued by the server over the one the caller sent
func ticketFrom(resp *http.Response, creds Credentials) string {
	if ticket := resp.Header.Get(authTicketHeader); ticket != "" {
		return ticket
	}
	return creds.AuthTicket
}
