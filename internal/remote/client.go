// Package remote talks to a hosted table store: the PostgREST table API for
// request/response access and the realtime WebSocket for insert events.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

type Client struct {
	client   *resty.Client
	realtime *Realtime
	log      *logrus.Entry
}

var _ store.Store = (*Client)(nil)

func New(baseURL, anonKey string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}

	rt, err := NewRealtime(base, anonKey)
	if err != nil {
		return nil, fmt.Errorf("creating realtime client: %w", err)
	}

	client := resty.New().
		SetBaseURL(base.String()+"/rest/v1").
		SetTimeout(timeout).
		SetHeader("apikey", anonKey).
		SetAuthToken(anonKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		client:   client,
		realtime: rt,
		log:      logging.Component("remote"),
	}, nil
}

func (c *Client) Select(ctx context.Context, table string, filter store.Filter, dest any) error {
	params := encodeFilter(filter)
	params.Set("select", "*")

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get("/" + table)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body(), dest); err != nil {
		return fmt.Errorf("decoding %s rows: %w", table, err)
	}
	return nil
}

func (c *Client) Insert(ctx context.Context, table string, record any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(record).
		Post("/" + table)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}

	// The representation carries generated columns; write them back when possible.
	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err == nil && len(rows) == 1 {
		_ = json.Unmarshal(rows[0], record)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, table string, filter store.Filter, patch map[string]any) error {
	if len(filter.Conds) == 0 {
		return fmt.Errorf("refusing to update every row of %s", table)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetQueryParamsFromValues(encodeFilter(filter)).
		SetBody(patch).
		Patch("/" + table)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	return checkResponse(resp)
}

func (c *Client) Subscribe(ctx context.Context, table string, filter store.Filter, onInsert store.InsertHandler) (store.Subscription, error) {
	return c.realtime.Subscribe(ctx, table, filter, onInsert)
}

func (c *Client) Unsubscribe(sub store.Subscription) {
	c.realtime.Unsubscribe(sub)
}

func (c *Client) Close() error {
	return c.realtime.Close()
}

func encodeFilter(filter store.Filter) url.Values {
	params := url.Values{}
	for _, cond := range filter.Conds {
		params.Add(cond.Column, fmt.Sprintf("%s.%v", cond.Op, cond.Value))
	}
	if filter.Order != "" {
		params.Set("order", filter.Order+".asc")
	}
	return params
}

func checkResponse(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	apiErr := &Error{Status: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}
