// Package ride talks to the browser-automation service that drives the
// Uber web app: quotes, bookings, status checks, cancellations and the
// occasional SMS login code.
package ride

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/samber/lo"

	"github.com/bborn/textline/internal/models"
)

// Quote is the set of products offered for a trip
type Quote struct {
	Pickup      string
	Destination string
	Products    []models.RideProduct
}

// Booking is a confirmed ride
type Booking struct {
	RequestID  string
	DriverName string
	Vehicle    string
	ETA        string
	Price      string
}

// Status is the current state of a booked ride
type Status struct {
	Status     models.RideStatus
	DriverName string
	ETA        string
}

// AuthChallenge is returned when the service needs a login code before it
// can continue. The caller should ask the user for the code and resume with
// ResumeWithAuthCode.
type AuthChallenge struct {
	Message string
}

func (e *AuthChallenge) Error() string {
	if e.Message == "" {
		return "ride service requires authentication"
	}
	return "ride service requires authentication: " + e.Message
}

// PriceExceededError is returned by Confirm when the live price is more than
// the tolerance above the quoted one. Nothing is booked.
type PriceExceededError struct {
	Quoted  string
	Current string
}

func (e *PriceExceededError) Error() string {
	return fmt.Sprintf("price went up from %s to %s", e.Quoted, e.Current)
}

var priceRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParsePrice reads a displayed price. Ranges like "$22-27" give the upper
// bound.
func ParsePrice(s string) (float64, bool) {
	matches := priceRe.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	values := lo.FilterMap(matches, func(m string, _ int) (float64, bool) {
		v, err := strconv.ParseFloat(m, 64)
		return v, err == nil
	})
	if len(values) == 0 {
		return 0, false
	}
	return lo.Max(values), true
}

// ErrUnreadablePrice means the quoted price could not be read, so there is
// nothing to hold the booking to
var ErrUnreadablePrice = errors.New("quoted price is unreadable")

// CheckPrice fails with *PriceExceededError when current is more than
// tolerance above quoted, and with ErrUnreadablePrice when quoted can't be
// read. An unreadable current price is let through; the service still
// enforces the max price we send.
func CheckPrice(quoted, current string, tolerance float64) error {
	q, ok := ParsePrice(quoted)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnreadablePrice, quoted)
	}
	c, ok := ParsePrice(current)
	if !ok {
		return nil
	}
	if c > q+tolerance {
		return &PriceExceededError{Quoted: quoted, Current: current}
	}
	return nil
}
