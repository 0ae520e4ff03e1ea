// Package transit looks up bus arrivals and service alerts from the MTA Bus
// Time SIRI API.
package transit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/bborn/textline/internal/models"
)

const DefaultBaseURL = "https://bustime.mta.info"

type Config struct {
	APIKey   string
	BaseURL  string
	Agencies []string // line ref prefixes tried in order, e.g. "MTA NYCT", "MTABC"
	Timeout  time.Duration
}

type Client struct {
	http     *resty.Client
	apiKey   string
	agencies []string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Agencies) == 0 {
		cfg.Agencies = []string{"MTA NYCT", "MTABC"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:     resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
		apiKey:   cfg.APIKey,
		agencies: cfg.Agencies,
	}
}

// Arrivals returns upcoming buses at the stop. route, when set, keeps only
// that route's buses. An unknown stop is reported with Found false rather
// than an error.
func (c *Client) Arrivals(ctx context.Context, stopCode, route string) (*models.StopArrivals, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":                       c.apiKey,
			"version":                   "2",
			"OperatorRef":               "MTA",
			"MonitoringRef":             stopCode,
			"StopMonitoringDetailLevel": "minimum",
		}).
		Get("/api/siri/stop-monitoring.json")
	if err != nil {
		return nil, fmt.Errorf("failed to query stop %s: %w", stopCode, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("stop monitoring returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	return parseStopMonitoring(resp.Body(), stopCode, route)
}

func parseStopMonitoring(body []byte, stopCode, route string) (*models.StopArrivals, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("stop monitoring returned invalid JSON")
	}
	delivery := gjson.GetBytes(body, "Siri.ServiceDelivery.StopMonitoringDelivery.0")
	if !delivery.Exists() {
		return nil, fmt.Errorf("stop monitoring response has no delivery")
	}

	result := &models.StopArrivals{StopCode: stopCode, Route: route}
	if delivery.Get("ErrorCondition").Exists() {
		return result, nil
	}
	result.Found = true

	delivery.Get("MonitoredStopVisit").ForEach(func(_, visit gjson.Result) bool {
		journey := visit.Get("MonitoredVehicleJourney")
		call := journey.Get("MonitoredCall")
		if result.StopName == "" {
			result.StopName = first(call.Get("StopPointName"))
		}

		line := first(journey.Get("PublishedLineName"))
		if route != "" && !strings.EqualFold(line, route) {
			return true
		}

		distances := call.Get("Extensions.Distances")
		result.Arrivals = append(result.Arrivals, models.Arrival{
			Route:       line,
			Destination: first(journey.Get("DestinationName")),
			StopsAway:   int(distances.Get("StopsFromCall").Int()),
			Distance:    distances.Get("PresentableDistance").String(),
			HasRealtime: journey.Get("VehicleLocation").Exists(),
		})
		return true
	})

	return result, nil
}

// ServiceAlerts returns active situations affecting the route
func (c *Client) ServiceAlerts(ctx context.Context, route string) ([]models.ServiceAlert, error) {
	var lastErr error
	for _, agency := range c.agencies {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":                          c.apiKey,
				"version":                      "2",
				"LineRef":                      agency + "_" + strings.ToUpper(route),
				"VehicleMonitoringDetailLevel": "minimum",
			}).
			Get("/api/siri/vehicle-monitoring.json")
		if err != nil {
			lastErr = fmt.Errorf("failed to query route %s: %w", route, err)
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("vehicle monitoring returned %d", resp.StatusCode())
			continue
		}

		body := resp.Body()
		if gjson.GetBytes(body, "Siri.ServiceDelivery.VehicleMonitoringDelivery.0.ErrorCondition").Exists() {
			// Route belongs to another agency
			continue
		}
		return parseSituations(body), nil
	}
	return nil, lastErr
}

func parseSituations(body []byte) []models.ServiceAlert {
	var alerts []models.ServiceAlert
	situations := gjson.GetBytes(body, "Siri.ServiceDelivery.SituationExchangeDelivery.0.Situations.PtSituationElement")
	situations.ForEach(func(_, s gjson.Result) bool {
		alert := models.ServiceAlert{
			Summary:     strings.TrimSpace(first(s.Get("Summary"))),
			Description: strings.TrimSpace(first(s.Get("Description"))),
		}
		s.Get("Affects.VehicleJourneys.AffectedVehicleJourney.#.LineRef").ForEach(func(_, ref gjson.Result) bool {
			line := ref.String()
			if i := strings.LastIndex(line, "_"); i >= 0 {
				line = line[i+1:]
			}
			alert.Routes = append(alert.Routes, line)
			return true
		})
		if alert.Summary != "" || alert.Description != "" {
			alerts = append(alerts, alert)
		}
		return true
	})
	return alerts
}

// first unwraps SIRI v2 fields, which are arrays of strings where v1 used
// plain strings.
func first(r gjson.Result) string {
	if r.IsArray() {
		return r.Get("0").String()
	}
	return r.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
