// Package search keeps the user search index in step with user items. Index
// convergence is best-effort: non-2xx responses are logged and counted, never returned.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/go-resty/resty/v2"

	"github.com/realapp/denorm/internal/metrics"
)

// Service is the signing name of the search domain.
const Service = "es"

// Config holds configuration for the search Client.
type Config struct {
	// Endpoint is the domain base URL, e.g. https://search-users.eu-west-1.es.amazonaws.com.
	Endpoint string

	// Region is the signing region.
	Region string

	// Index is the document index.
	// Default: "users"
	Index string

	// Timeout bounds each request.
	// Default: 10s
	Timeout time.Duration
}

func (c *Config) validate() {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Index == "" {
		c.Index = "users"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Client writes documents to the search index with SigV4-signed requests.
type Client struct {
	http   *resty.Client
	config Config
	logger *slog.Logger
}

// New creates a Client. Requests are signed with credentials from creds.
func New(config Config, creds aws.CredentialsProvider, logger *slog.Logger) *Client {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}

	signer := v4.NewSigner()
	httpClient := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json")
	httpClient.SetPreRequestHook(func(_ *resty.Client, r *http.Request) error {
		return sign(r, signer, creds, config.Region, time.Now())
	})

	return &Client{
		http:   httpClient,
		config: config,
		logger: logger,
	}
}

// sign adds SigV4 headers for the request body.
func sign(r *http.Request, signer *v4.Signer, creds aws.CredentialsProvider, region string, at time.Time) error {
	var body []byte
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return fmt.Errorf("read body for signing: %w", err)
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read body for signing: %w", err)
		}
	}
	sum := sha256.Sum256(body)

	c, err := creds.Retrieve(r.Context())
	if err != nil {
		return fmt.Errorf("retrieve credentials: %w", err)
	}
	return signer.SignHTTP(r.Context(), c, r, hex.EncodeToString(sum[:]), Service, region, at)
}

func (c *Client) docURL(docID string) string {
	return fmt.Sprintf("%s/%s/_doc/%s", c.config.Endpoint, c.config.Index, url.PathEscape(docID))
}

// Upsert writes doc under docID.
func (c *Client) Upsert(ctx context.Context, docID string, doc map[string]string) error {
	u := c.docURL(docID)
	c.logger.Info("search: upserting document", "url", u)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(doc).
		Put(u)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("upsert", metrics.ResultFailed).Inc()
		return fmt.Errorf("search upsert %s: %w", docID, err)
	}
	c.check("upsert", docID, resp)
	return nil
}

// Delete removes the document docID.
func (c *Client) Delete(ctx context.Context, docID string) error {
	u := c.docURL(docID)
	c.logger.Info("search: deleting document", "url", u)

	resp, err := c.http.R().
		SetContext(ctx).
		Delete(u)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("delete", metrics.ResultFailed).Inc()
		return fmt.Errorf("search delete %s: %w", docID, err)
	}
	c.check("delete", docID, resp)
	return nil
}

func (c *Client) check(op, docID string, resp *resty.Response) {
	if resp.IsSuccess() {
		metrics.SearchRequests.WithLabelValues(op, metrics.ResultOK).Inc()
		return
	}
	metrics.SearchRequests.WithLabelValues(op, metrics.ResultFailed).Inc()
	c.logger.Warn("search: non-2xx response",
		"operation", op,
		"docId", docID,
		"status", resp.StatusCode(),
	)
}
