package api

import (
	"context"
	"net/http"
	"net/url"

	"klinika-scheduler/internal/model"
)

func (c *Client) News(ctx context.Context) ([]model.News, error) {
	var out []model.News
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "News", path: "News", public: true}, &out)
	return out, err
}

func (c *Client) NewsItem(ctx context.Context, id string) (*model.News, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.News
	if err := c.do(ctx, call{method: http.MethodGet, endpoint: "News/{id}", path: "News/" + esc(id), public: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateNews(ctx context.Context, n model.News) (*model.News, error) {
	var out model.News
	if err := c.send(ctx, http.MethodPost, "News", "News", n, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateNews(ctx context.Context, n model.News) error {
	if n.ID == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "News/{id}", "News/"+esc(n.ID), n, nil)
}

func (c *Client) DeleteNews(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodDelete, "News/{id}", "News/"+esc(id), nil, nil)
}

// Reviews lists reviews, all of them when doctorID is empty.
func (c *Client) Reviews(ctx context.Context, doctorID string) ([]model.Review, error) {
	var q url.Values
	if doctorID != "" {
		q = url.Values{"doctorId": {doctorID}}
	}
	var out []model.Review
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "Review", path: "Review", query: q, public: true}, &out)
	return out, err
}

func (c *Client) CreateReview(ctx context.Context, r model.Review) (*model.Review, error) {
	var out model.Review
	if err := c.send(ctx, http.MethodPost, "Review", "Review", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteReview(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodDelete, "Review/{id}", "Review/"+esc(id), nil, nil)
}
