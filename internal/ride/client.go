package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/bborn/textline/internal/models"
)

type Config struct {
	BaseURL string
	Token   string
	// Browser sessions are slow; a quote can take most of a minute
	Timeout        time.Duration
	PriceTolerance float64
}

// Client calls the automation service's JSON API. Every response carries a
// "status" of ok, auth_required, price_exceeded or error.
type Client struct {
	http      *resty.Client
	tolerance float64
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &Client{http: c, tolerance: cfg.PriceTolerance}
}

func (c *Client) Quote(ctx context.Context, pickup, destination string) (*Quote, error) {
	body, err := c.post(ctx, "/v1/quote", map[string]any{
		"pickup":      pickup,
		"destination": destination,
	})
	if err != nil {
		return nil, err
	}
	return parseQuote(body.Get("quote"), pickup, destination)
}

// Confirm books ride.Products[product]. The live price is read first and
// the booking is refused when it is more than the tolerance above the quote.
// The service is also told the highest price we accept, in case the price
// moves between the two calls.
func (c *Client) Confirm(ctx context.Context, ride models.PendingRide, product int) (*Booking, error) {
	if product < 0 || product >= len(ride.Products) {
		return nil, fmt.Errorf("no ride option %d", product+1)
	}
	chosen := ride.Products[product]
	quoted, ok := ParsePrice(chosen.Price)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnreadablePrice, chosen.Price)
	}

	req := map[string]any{
		"pickup":      ride.Pickup,
		"destination": ride.Destination,
		"product":     chosen.Name,
	}

	preview, err := c.post(ctx, "/v1/confirm/preview", req)
	if err != nil {
		return nil, quotedAs(err, chosen.Price)
	}
	if err := CheckPrice(chosen.Price, preview.Get("current_price").String(), c.tolerance); err != nil {
		return nil, err
	}

	req["quoted_price"] = chosen.Price
	req["max_price"] = quoted + c.tolerance
	body, err := c.post(ctx, "/v1/confirm", req)
	if err != nil {
		return nil, quotedAs(err, chosen.Price)
	}

	booking := &Booking{
		RequestID:  body.Get("request_id").String(),
		DriverName: body.Get("driver_name").String(),
		Vehicle:    body.Get("vehicle").String(),
		ETA:        body.Get("eta").String(),
		Price:      body.Get("price").String(),
	}
	if booking.RequestID == "" {
		return nil, errors.New("ride service confirmed without a request id")
	}
	return booking, nil
}

func quotedAs(err error, quoted string) error {
	var exceeded *PriceExceededError
	if errors.As(err, &exceeded) && exceeded.Quoted == "" {
		exceeded.Quoted = quoted
	}
	return err
}

func (c *Client) Status(ctx context.Context, requestID string) (*Status, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", requestID).
		Get("/v1/rides/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to get ride status: %w", err)
	}
	body, err := c.envelope(resp)
	if err != nil {
		return nil, err
	}
	return &Status{
		Status:     models.RideStatus(body.Get("ride_status").String()),
		DriverName: body.Get("driver_name").String(),
		ETA:        body.Get("eta").String(),
	}, nil
}

func (c *Client) Cancel(ctx context.Context, requestID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", requestID).
		Post("/v1/rides/{id}/cancel")
	if err != nil {
		return fmt.Errorf("failed to cancel ride: %w", err)
	}
	_, err = c.envelope(resp)
	return err
}

// ResumeWithAuthCode submits the login code. An interrupted quote is
// replayed by the service and returned; for any other action the result is
// nil and the caller re-runs it, so bookings keep their price check.
func (c *Client) ResumeWithAuthCode(ctx context.Context, code string, auth models.PendingAuth) (*Quote, error) {
	req := map[string]any{"code": code}
	if auth.Action == "quote" {
		req["action"] = auth.Action
		req["params"] = auth.Params
	}
	body, err := c.post(ctx, "/v1/auth", req)
	if err != nil {
		return nil, err
	}
	quote := body.Get("quote")
	if !quote.Exists() {
		return nil, nil
	}
	return parseQuote(quote, auth.Params["pickup"], auth.Params["destination"])
}

func (c *Client) post(ctx context.Context, path string, payload any) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to call %s: %w", path, err)
	}
	return c.envelope(resp)
}

func (c *Client) envelope(resp *resty.Response) (gjson.Result, error) {
	raw := resp.Body()
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("ride service returned %d with invalid JSON", resp.StatusCode())
	}
	body := gjson.ParseBytes(raw)

	switch body.Get("status").String() {
	case "ok":
		if resp.IsError() {
			return gjson.Result{}, fmt.Errorf("ride service returned %d", resp.StatusCode())
		}
		return body, nil
	case "auth_required":
		return gjson.Result{}, &AuthChallenge{Message: body.Get("message").String()}
	case "price_exceeded":
		return gjson.Result{}, &PriceExceededError{
			Quoted:  body.Get("quoted_price").String(),
			Current: body.Get("current_price").String(),
		}
	}

	msg := body.Get("error").String()
	if msg == "" {
		msg = fmt.Sprintf("unexpected response (%d)", resp.StatusCode())
	}
	return gjson.Result{}, fmt.Errorf("ride service: %s", msg)
}

func parseQuote(q gjson.Result, pickup, destination string) (*Quote, error) {
	quote := &Quote{
		Pickup:      q.Get("pickup").String(),
		Destination: q.Get("destination").String(),
	}
	if quote.Pickup == "" {
		quote.Pickup = pickup
	}
	if quote.Destination == "" {
		quote.Destination = destination
	}
	q.Get("products").ForEach(func(_, p gjson.Result) bool {
		quote.Products = append(quote.Products, models.RideProduct{
			Name:  p.Get("name").String(),
			Price: p.Get("price").String(),
			ETA:   p.Get("eta").String(),
		})
		return true
	})
	if len(quote.Products) == 0 {
		return nil, errors.New("ride service returned no products")
	}
	return quote, nil
}
