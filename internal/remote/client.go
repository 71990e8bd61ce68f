package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
)

const maxErrorBody = 1 << 16

// APIError is a definitive answer from the server that is not a success.
type APIError struct {
	StatusCode  int
	Code        string
	Message     string
	Transaction *models.Transaction
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the answer onto the shared error kinds.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == models.CodeNotEligible:
		return models.ErrNotEligible
	case e.Code == models.CodeRecipientNotFound:
		return models.ErrRecipientNotFound
	case e.Code == models.CodeSenderNotFound:
		return models.ErrSenderNotFound
	case e.StatusCode == http.StatusUnauthorized:
		return models.ErrUnauthenticated
	case e.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case e.StatusCode == http.StatusBadRequest:
		return models.ErrValidation
	case e.StatusCode >= http.StatusInternalServerError, e.StatusCode == http.StatusTooManyRequests:
		return models.ErrTransport
	}
	return nil
}

// Client talks JSON over HTTP to the transfer server. Every call is bounded
// by the client timeout.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	log        *log.Logger
}

func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.NewWithOptions(os.Stderr, log.Options{Prefix: "transfer-client"}),
	}
}

// WithLogger replaces the client's logger.
func (c *Client) WithLogger(l *log.Logger) *Client {
	c.log = l
	return c
}

func (c *Client) CreatePending(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	body := models.CreateTransferRequest{
		ID:                  tx.ID,
		RecipientIdentifier: tx.RecipientIdentifier,
		Amount:              tx.Amount,
		Note:                tx.Note,
	}

	var created models.Transaction
	if err := c.do(ctx, http.MethodPost, "/transfer", body, &created); err != nil {
		return tx, err
	}
	created.OwnerID = tx.OwnerID
	return created, nil
}

func (c *Client) Execute(ctx context.Context, id string) (models.Transaction, error) {
	var tx models.Transaction
	err := c.do(ctx, http.MethodPut, "/transaction/"+url.PathEscape(id)+"/sync", struct{}{}, &tx)
	return c.withCurrent(tx, err)
}

func (c *Client) Cancel(ctx context.Context, id string) (models.Transaction, error) {
	var tx models.Transaction
	err := c.do(ctx, http.MethodPost, "/transaction/"+url.PathEscape(id)+"/cancel", struct{}{}, &tx)
	return c.withCurrent(tx, err)
}

// withCurrent returns the server's record attached to a refusal.
func (c *Client) withCurrent(tx models.Transaction, err error) (models.Transaction, error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Transaction != nil {
		return *apiErr.Transaction, err
	}
	return tx, err
}

func (c *Client) List(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var txs []models.Transaction
	if err := c.do(ctx, http.MethodGet, "/transactions?"+query.Encode(), nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var body map[string]string
	return c.do(ctx, http.MethodGet, "/health", nil, &body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("request failed without response", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			// a truncated success body leaves the outcome unknown
			return fmt.Errorf("%w: decode response: %v", models.ErrTransport, err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		apiErr.Transaction = body.Transaction
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	c.log.Debug("request refused", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
	return apiErr
}

var _ interfaces.TransferAPI = (*Client)(nil)
