package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Indexer is the external indexing service consumed for historical
// queries. It is a remote collaborator; only its interface is known
// here.
type Indexer interface {
	TransactionsByAddress(ctx context.Context, q TransactionsQuery) (TransactionsPage, error)
	Logs(ctx context.Context, q LogsQuery) (LogsPage, error)
}

type TransactionsQuery struct {
	Address   string
	FromBlock uint64
	ToBlock   uint64
	PageSize  int
}

type LogsQuery struct {
	Contract    string
	FromAddress string
	ToAddress   string
	FromBlock   uint64
	ToBlock     uint64
	PageToken   string
}

// Uint64String decodes fields the indexing service returns as either
// quoted or bare numbers. It marshals back as a plain number.
type Uint64String uint64

func (u *Uint64String) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("numeric field %q: %w", s, err)
	}

	*u = Uint64String(v)

	return nil
}

// Transaction is one indexed transaction, returned verbatim apart from
// numeric coercion.
type Transaction struct {
	Txid     string       `json:"txid"`
	Height   Uint64String `json:"height"`
	From     string       `json:"from"`
	To       string       `json:"to,omitempty"`
	Value    string       `json:"value"`
	Gas      Uint64String `json:"gas"`
	GasPrice string       `json:"gasPrice"`
}

type TransactionsPage struct {
	Transactions []Transaction `json:"transactions"`
}

// Log is one indexed raw log. NextPageToken on the enclosing page is
// the continuation cursor; an empty token means the last page.
type Log struct {
	Address string       `json:"address"`
	Topics  []string     `json:"topics"`
	Data    string       `json:"data"`
	Height  Uint64String `json:"height"`
	TxHash  string       `json:"transactionHash"`
}

type LogsPage struct {
	Logs          []Log  `json:"logs"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// HTTPIndexer talks to the indexing service over its REST API.
type HTTPIndexer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPIndexer(baseURL string) *HTTPIndexer {
	return &HTTPIndexer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPIndexer) TransactionsByAddress(ctx context.Context, q TransactionsQuery) (TransactionsPage, error) {
	query := url.Values{}
	query.Set("address", strings.ToLower(q.Address))
	if q.FromBlock > 0 {
		query.Set("fromBlock", strconv.FormatUint(q.FromBlock, 10))
	}
	if q.ToBlock > 0 {
		query.Set("toBlock", strconv.FormatUint(q.ToBlock, 10))
	}
	if q.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(q.PageSize))
	}

	var page TransactionsPage
	err := c.get(ctx, "/v1/transactions", query, &page)

	return page, err
}

func (c *HTTPIndexer) Logs(ctx context.Context, q LogsQuery) (LogsPage, error) {
	query := url.Values{}
	query.Set("address", strings.ToLower(q.Contract))
	if q.FromAddress != "" {
		query.Set("fromAddress", strings.ToLower(q.FromAddress))
	}
	if q.ToAddress != "" {
		query.Set("toAddress", strings.ToLower(q.ToAddress))
	}
	if q.FromBlock > 0 {
		query.Set("fromBlock", strconv.FormatUint(q.FromBlock, 10))
	}
	if q.ToBlock > 0 {
		query.Set("toBlock", strconv.FormatUint(q.ToBlock, 10))
	}
	if q.PageToken != "" {
		query.Set("pageToken", q.PageToken)
	}

	var page LogsPage
	err := c.get(ctx, "/v1/logs", query, &page)

	return page, err
}

func (c *HTTPIndexer) get(ctx context.Context, path string, query url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexing service returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
