package api

import (
	"context"
	"net/http"

	"klinika-scheduler/internal/model"
)

func (c *Client) Services(ctx context.Context) ([]model.Service, error) {
	var out []model.Service
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "Service", path: "Service", public: true}, &out)
	return out, err
}

func (c *Client) Service(ctx context.Context, id string) (*model.Service, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Service
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "Service/{id}", path: "Service/" + esc(id), public: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateService(ctx context.Context, s model.Service) (*model.Service, error) {
	var out model.Service
	if err := c.send(ctx, http.MethodPost, "Service", "Service", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateService(ctx context.Context, s model.Service) error {
	if s.ID == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodPut, "Service/{id}", "Service/"+esc(s.ID), s, nil)
}

func (c *Client) DeleteService(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodDelete, "Service/{id}", "Service/"+esc(id), nil, nil)
}

func (c *Client) ServiceCategories(ctx context.Context) ([]model.ServiceCategory, error) {
	var out []model.ServiceCategory
	err := c.do(ctx, call{method: http.MethodGet, endpoint: "ServiceCategory", path: "ServiceCategory", public: true}, &out)
	return out, err
}

func (c *Client) CreateServiceCategory(ctx context.Context, name string) (*model.ServiceCategory, error) {
	var out model.ServiceCategory
	if err := c.send(ctx, http.MethodPost, "ServiceCategory", "ServiceCategory", model.ServiceCategory{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteServiceCategory(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	return c.send(ctx, http.MethodDelete, "ServiceCategory/{id}", "ServiceCategory/"+esc(id), nil, nil)
}
