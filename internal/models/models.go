package models

import "time"

type RideStatus string

const (
	RideProcessing     RideStatus = "processing"
	RideAccepted       RideStatus = "accepted"
	RideArriving       RideStatus = "arriving"
	RideInProgress     RideStatus = "in_progress"
	RideCompleted      RideStatus = "completed"
	RideRiderCanceled  RideStatus = "rider_canceled"
	RideDriverCanceled RideStatus = "driver_canceled"
)

// Terminal reports whether no further status changes are expected for the ride
func (s RideStatus) Terminal() bool {
	switch s {
	case RideCompleted, RideRiderCanceled, RideDriverCanceled:
		return true
	}
	return false
}

// BusQuery is the last stop lookup a sender made, kept for "R" refreshes
type BusQuery struct {
	StopCode   string    `json:"stop_code"`
	Route      string    `json:"route,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// RideProduct is one option offered in a quote (UberX, Comfort, ...)
type RideProduct struct {
	Name  string `json:"name"`
	Price string `json:"price"` // as displayed, e.g. "$24.50" or "$22-27"
	ETA   string `json:"eta,omitempty"`
}

// PendingRide is a quote waiting for "uber confirm"
type PendingRide struct {
	Pickup      string        `json:"pickup"`
	Destination string        `json:"destination"`
	Products    []RideProduct `json:"products"`
	CapturedAt  time.Time     `json:"captured_at"`
}

// ActiveRide is a booked ride we still track status for
type ActiveRide struct {
	RequestID  string    `json:"request_id"`
	CapturedAt time.Time `json:"captured_at"`
}

// PendingAuth remembers what we were doing when the ride service asked
// for a login code, so "uber auth <code>" can pick it back up.
type PendingAuth struct {
	Action     string            `json:"action"`
	Params     map[string]string `json:"params,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
}

// Arrival is a single upcoming bus at a stop
type Arrival struct {
	Route       string
	Destination string
	StopsAway   int
	Distance    string // presentable distance, e.g. "approaching", "2 stops away"
	HasRealtime bool
}

// StopArrivals is the transit lookup result for one stop
type StopArrivals struct {
	Found    bool
	StopCode string
	StopName string
	Route    string
	Arrivals []Arrival
}

// ServiceAlert is a planned or unplanned service change for a route
type ServiceAlert struct {
	Routes      []string
	Summary     string
	Description string
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// FoodItem is one line of a calorie estimate
type FoodItem struct {
	Name     string `json:"name"`
	Calories int    `json:"calories"`
	Portion  string `json:"portion"`
}

// Estimate is the AI calorie estimate. When Success is false only
// RawResponse is meaningful.
type Estimate struct {
	Success       bool       `json:"success"`
	Items         []FoodItem `json:"items"`
	TotalCalories int        `json:"total_calories"`
	Confidence    Confidence `json:"confidence"`
	Notes         string     `json:"notes,omitempty"`
	RawResponse   string     `json:"-"`
}

// DayTotal is the nutrition counter for one sender on one local day
type DayTotal struct {
	Phone  string
	Day    string // YYYY-MM-DD in the service time zone
	Total  int
	Target int
}

// Remaining returns calories left before the target, never negative
func (d DayTotal) Remaining() int {
	if d.Total >= d.Target {
		return 0
	}
	return d.Target - d.Total
}
