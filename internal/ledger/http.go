package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	// BaseURL is the root of the actual-http-api bridge.
	BaseURL string
	// APIKey is sent as x-api-key.
	APIKey string
	// SyncID identifies the budget file.
	SyncID string
	// EncryptionPassword unlocks end-to-end encrypted budgets.
	EncryptionPassword string
	// Client overrides the HTTP client. Defaults to a 30s timeout client.
	Client *http.Client
}

// HTTPGateway implements Gateway against an actual-http-api bridge. Only one
// Open/Close session is held at a time; other callers block in Open.
type HTTPGateway struct {
	cfg    HTTPConfig
	client *http.Client
	base   string

	// sem holds a token while a session is open.
	sem chan struct{}

	mu   sync.Mutex
	open bool
}

// NewHTTPGateway creates a gateway for the budget identified by cfg.SyncID.
func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" || cfg.SyncID == "" {
		return nil, errors.New("ledger: base URL and sync id are required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/") + "/v1/budgets/" + url.PathEscape(cfg.SyncID)
	return &HTTPGateway{
		cfg:    cfg,
		client: client,
		base:   base,
		sem:    make(chan struct{}, 1),
	}, nil
}

// Open acquires the session and asks the bridge to load the budget.
func (g *HTTPGateway) Open(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := g.do(ctx, http.MethodGet, "", nil, nil); err != nil {
		<-g.sem
		return fmt.Errorf("failed to open budget: %w", err)
	}

	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
	return nil
}

// Close releases the session.
func (g *HTTPGateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		return ErrNotOpen
	}
	g.open = false
	<-g.sem
	return nil
}

// Sync asks the bridge to synchronise the budget with the server.
func (g *HTTPGateway) Sync(ctx context.Context) error {
	if err := g.requireOpen(); err != nil {
		return err
	}
	return g.do(ctx, http.MethodPost, "/sync", nil, nil)
}

// Accounts lists the budget accounts.
func (g *HTTPGateway) Accounts(ctx context.Context) ([]Account, error) {
	if err := g.requireOpen(); err != nil {
		return nil, err
	}
	var accounts []Account
	if err := g.do(ctx, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// AccountBalance returns the balance of accountID up to and including asOf.
func (g *HTTPGateway) AccountBalance(ctx context.Context, accountID string, asOf time.Time) (int64, error) {
	if err := g.requireOpen(); err != nil {
		return 0, err
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/balance?cutoff_date=" + url.QueryEscape(FormatDate(asOf))
	var balance int64
	if err := g.do(ctx, http.MethodGet, path, nil, &balance); err != nil {
		return 0, fmt.Errorf("failed to get balance for account %s: %w", accountID, err)
	}
	return balance, nil
}

// Payees lists all payees.
func (g *HTTPGateway) Payees(ctx context.Context) ([]Payee, error) {
	if err := g.requireOpen(); err != nil {
		return nil, err
	}
	var payees []Payee
	if err := g.do(ctx, http.MethodGet, "/payees", nil, &payees); err != nil {
		return nil, fmt.Errorf("failed to list payees: %w", err)
	}
	return payees, nil
}

// CreatePayee creates a payee named name.
func (g *HTTPGateway) CreatePayee(ctx context.Context, name string) (string, error) {
	if err := g.requireOpen(); err != nil {
		return "", err
	}
	body := map[string]any{"payee": map[string]string{"name": name}}
	var id string
	if err := g.do(ctx, http.MethodPost, "/payees", body, &id); err != nil {
		return "", fmt.Errorf("failed to create payee %q: %w", name, err)
	}
	return id, nil
}

// AddTransactions inserts txs into accountID without reconciliation rules.
func (g *HTTPGateway) AddTransactions(ctx context.Context, accountID string, txs []Transaction, opts AddOptions) error {
	if err := g.requireOpen(); err != nil {
		return err
	}
	body := struct {
		Transactions []Transaction `json:"transactions"`
		AddOptions
	}{Transactions: txs, AddOptions: opts}
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions/batch"
	if err := g.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to add transactions to account %s: %w", accountID, err)
	}
	return nil
}

func (g *HTTPGateway) requireOpen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return ErrNoBudgetOpen
	}
	return nil
}

// envelope is the bridge's response shape.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.cfg.APIKey != "" {
		req.Header.Set("x-api-key", g.cfg.APIKey)
	}
	if g.cfg.EncryptionPassword != "" {
		req.Header.Set("budget-encryption-password", g.cfg.EncryptionPassword)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if strings.Contains(msg, ErrNoBudgetOpen.Error()) {
			return ErrNoBudgetOpen
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}
