package graph

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultHTTPTimeout = 20 * time.Second

// HTTPOptions configures HTTPClient.
type HTTPOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// MaxRequestsPerSecond is a hard floor under the pacing policy; zero disables it.
	MaxRequestsPerSecond float64
}

// HTTPClient implements Client against a JSON gateway that fronts the
// network's private endpoints.
type HTTPClient struct {
	rest    *resty.Client
	limiter *rate.Limiter
}

func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		rc.SetAuthToken(opts.Token)
	}
	limit := rate.Inf
	if opts.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(opts.MaxRequestsPerSecond)
	}
	return &HTTPClient{rest: rc, limiter: rate.NewLimiter(limit, 1)}
}

type idResponse struct {
	ID string `json:"id"`
}

type likersResponse struct {
	Items []User `json:"items"`
}

type reciprocatorsResponse struct {
	IDs []string `json:"ids"`
}

func (c *HTTPClient) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return c.rest.R().SetContext(ctx), nil
}

// check maps transport errors and non-2xx statuses onto package errors.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		log.Warn().Str("op", op).Err(err).Msg("graph request failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	status := resp.StatusCode()
	log.Warn().Str("op", op).Int("status", status).Msg("graph request rejected")
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, ErrRateLimited)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	default:
		return fmt.Errorf("%s: http %d", op, status)
	}
}

func (c *HTTPClient) ResolveAccount(ctx context.Context, handle string) (User, error) {
	req, err := c.request(ctx)
	if err != nil {
		return User{}, err
	}
	var out User
	resp, err := req.SetPathParam("handle", handle).SetResult(&out).Get("/accounts/{handle}")
	if err := check("resolve account", resp, err); err != nil {
		return User{}, err
	}
	if out.ID == "" {
		return User{}, fmt.Errorf("resolve account %q: %w", handle, ErrNotFound)
	}
	return out, nil
}

func (c *HTTPClient) FetchConnectionsPage(ctx context.Context, accountID string, edge Edge, pageSize int, cursor string) (Page, error) {
	req, err := c.request(ctx)
	if err != nil {
		return Page{}, err
	}
	var out Page
	resp, err := req.
		SetPathParams(map[string]string{"id": accountID, "edge": string(edge)}).
		SetQueryParam("first", strconv.Itoa(pageSize)).
		SetQueryParam("after", cursor).
		SetResult(&out).
		Get("/accounts/{id}/{edge}")
	if err := check("fetch connections", resp, err); err != nil {
		return Page{}, err
	}
	return out, nil
}

func (c *HTTPClient) ResolveMediaID(ctx context.Context, shortCode string) (string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return "", err
	}
	var out idResponse
	resp, err := req.SetPathParam("code", shortCode).SetResult(&out).Get("/media/{code}")
	if err := check("resolve media", resp, err); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("resolve media %q: %w", shortCode, ErrNotFound)
	}
	return out.ID, nil
}

func (c *HTTPClient) FetchPostLikers(ctx context.Context, mediaID string) ([]User, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out likersResponse
	resp, err := req.SetPathParam("id", mediaID).SetResult(&out).Get("/media/{id}/likers")
	if err := check("fetch likers", resp, err); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) FetchPostCommentsPage(ctx context.Context, shortCode string, pageSize int, cursor string) (Page, error) {
	req, err := c.request(ctx)
	if err != nil {
		return Page{}, err
	}
	var out Page
	resp, err := req.
		SetPathParam("code", shortCode).
		SetQueryParam("first", strconv.Itoa(pageSize)).
		SetQueryParam("after", cursor).
		SetResult(&out).
		Get("/media/{code}/comments")
	if err := check("fetch comments", resp, err); err != nil {
		return Page{}, err
	}
	return out, nil
}

func (c *HTTPClient) Follow(ctx context.Context, targetID string) (FollowResult, error) {
	req, err := c.request(ctx)
	if err != nil {
		return FollowResult{}, err
	}
	var out FollowResult
	resp, err := req.SetPathParam("id", targetID).SetResult(&out).Post("/friendships/{id}/follow")
	if err := check("follow", resp, err); err != nil {
		return FollowResult{}, err
	}
	if out.Tag == "" {
		out.Tag = TagFollowed
	}
	return out, nil
}

func (c *HTTPClient) Unfollow(ctx context.Context, targetID string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParam("id", targetID).Post("/friendships/{id}/unfollow")
	return check("unfollow", resp, err)
}

func (c *HTTPClient) ResolveReciprocators(ctx context.Context, accountID string, since time.Time) ([]string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out reciprocatorsResponse
	resp, err := req.
		SetPathParam("id", accountID).
		SetQueryParam("since", since.UTC().Format(time.RFC3339)).
		SetResult(&out).
		Get("/accounts/{id}/reciprocators")
	if err := check("resolve reciprocators", resp, err); err != nil {
		return nil, err
	}
	return out.IDs, nil
}
