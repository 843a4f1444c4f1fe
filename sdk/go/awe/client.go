package awe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"Awe-Chain/internal/address"
	"Awe-Chain/internal/api"
	"Awe-Chain/internal/events"
	"Awe-Chain/internal/ledger"
	"Awe-Chain/internal/runtime"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the awed REST API. It satisfies
// Backend so every flow in this package can run against a remote node.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// APIError represents server side validation or execution errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("awe api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("awe api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the awed API. When httpClient is nil, a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit sends a signed transaction and returns its receipt.
func (c *Client) Submit(ctx context.Context, tx *runtime.Transaction) (*runtime.Receipt, error) {
	var receipt runtime.Receipt
	if err := c.post(ctx, "/api/v1/transactions", tx, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Account fetches committed account state. A missing account yields
// ledger.ErrAccountNotFound so callers can treat local and remote backends alike.
func (c *Client) Account(ctx context.Context, addr address.Address) (*ledger.Account, error) {
	view, err := c.AccountView(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &ledger.Account{Address: view.Address, Owner: view.Owner, Lamports: view.Lamports, Data: view.Data}, nil
}

// AccountView fetches an account together with its decoded view.
func (c *Client) AccountView(ctx context.Context, addr address.Address) (*api.AccountView, error) {
	var view api.AccountView
	if err := c.get(ctx, "/api/v1/accounts/"+addr.String(), &view); err != nil {
		return nil, notFound(err)
	}
	return &view, nil
}

// Airdrop requests faucet lamports for addr.
func (c *Client) Airdrop(ctx context.Context, addr address.Address, lamports uint64) (uint64, error) {
	var resp api.AirdropResponse
	if err := c.post(ctx, "/api/v1/airdrop", api.AirdropRequest{Address: addr, Lamports: lamports}, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// Metadata fetches the decoded metadata owned by authority.
func (c *Client) Metadata(ctx context.Context, authority address.Address) (*api.MetadataView, error) {
	var view api.MetadataView
	if err := c.get(ctx, "/api/v1/metadata/"+authority.String(), &view); err != nil {
		return nil, notFound(err)
	}
	return &view, nil
}

// Creator fetches the agent counter of user under metadata.
func (c *Client) Creator(ctx context.Context, metadata, user address.Address) (*api.CreatorView, error) {
	var view api.CreatorView
	if err := c.get(ctx, "/api/v1/creators/"+metadata.String()+"/"+user.String(), &view); err != nil {
		return nil, notFound(err)
	}
	return &view, nil
}

// Program describes the deployed program ids and delegate authority.
func (c *Client) Program(ctx context.Context) (*api.ProgramView, error) {
	var view api.ProgramView
	if err := c.get(ctx, "/api/v1/program", &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Events returns up to limit recently published events.
func (c *Client) Events(ctx context.Context, limit int) ([]events.Event, error) {
	var out []events.Event
	if err := c.get(ctx, "/api/v1/events?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func notFound(err error) error {
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return ledger.ErrAccountNotFound
	}
	return err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	ref.Path = path.Join(c.baseURL.Path, ref.Path)
	u := c.baseURL.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Backend = (*Client)(nil)
