// Package format renders replies as plain SMS text. Every function is pure
// and tolerates missing or malformed data.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/bborn/textline/internal/models"
)

const (
	// MaxLength is the longest body Twilio will deliver as one concatenated SMS
	MaxLength = 1600
	// MaxArrivals is how many buses an arrivals reply lists
	MaxArrivals = 5

	NotUnderstood = "Sorry, I couldn't make sense of that. Please try again."
)

// Clamp cuts s to MaxLength characters
func Clamp(s string) string {
	if utf8.RuneCountInString(s) <= MaxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxLength-1]) + "…"
}

func Help() string {
	return "Commands:\n" +
		"<food> - log calories (or send a photo)\n" +
		"total - today's calories\n" +
		"sub <n> - subtract calories\n" +
		"target <n> - set daily target\n" +
		"reset calories - start today over\n" +
		"suggest [style] - meal ideas\n" +
		"<stop code> [route] - bus times\n" +
		"R - refresh last bus query\n" +
		"C <route> - service changes\n" +
		"uber <from> to <to> - ride prices\n" +
		"uber confirm/status/cancel"
}

// Arrivals lists the next buses at a stop
func Arrivals(a *models.StopArrivals) string {
	if a == nil {
		return NotUnderstood
	}
	if !a.Found {
		return fmt.Sprintf("Stop %s not found. Check the 6-digit code on the bus stop sign.", a.StopCode)
	}

	var sb strings.Builder
	name := lo.Ternary(a.StopName != "", a.StopName, "Stop "+a.StopCode)
	sb.WriteString(fmt.Sprintf("🚏 %s", name))
	if a.Route != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", a.Route))
	}
	sb.WriteString("\n")

	if len(a.Arrivals) == 0 {
		if a.Route != "" {
			sb.WriteString(fmt.Sprintf("No %s buses on the way right now.", a.Route))
		} else {
			sb.WriteString("No buses on the way right now.")
		}
		return Clamp(sb.String())
	}

	shown := a.Arrivals
	if len(shown) > MaxArrivals {
		shown = shown[:MaxArrivals]
	}
	for i, arr := range shown {
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, lo.Ternary(arr.Route != "", arr.Route, "?")))
		if arr.Destination != "" {
			sb.WriteString(" → " + arr.Destination)
		}
		sb.WriteString(": " + distance(arr))
		if !arr.HasRealtime {
			sb.WriteString(" (scheduled)")
		}
		sb.WriteString("\n")
	}
	if extra := len(a.Arrivals) - len(shown); extra > 0 {
		sb.WriteString(fmt.Sprintf("...and %d more\n", extra))
	}
	sb.WriteString("Reply R to refresh")

	return Clamp(sb.String())
}

func distance(a models.Arrival) string {
	switch {
	case a.Distance != "":
		return a.Distance
	case a.StopsAway == 0:
		return "approaching"
	case a.StopsAway == 1:
		return "1 stop away"
	default:
		return fmt.Sprintf("%d stops away", a.StopsAway)
	}
}

// ServiceAlerts summarises service changes for a route
func ServiceAlerts(route string, alerts []models.ServiceAlert) string {
	if len(alerts) == 0 {
		return fmt.Sprintf("✅ No service changes for %s.", route)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⚠️ %s service changes (%d):\n", route, len(alerts)))
	for _, alert := range alerts {
		text := lo.Ternary(alert.Summary != "", alert.Summary, alert.Description)
		sb.WriteString("• " + oneLine(text) + "\n")
	}
	return Clamp(strings.TrimRight(sb.String(), "\n"))
}

// Estimate renders a calorie estimate followed by the day's running total
func Estimate(est *models.Estimate, day models.DayTotal) string {
	if est == nil || !est.Success {
		return NotUnderstood
	}

	var sb strings.Builder
	for _, item := range est.Items {
		sb.WriteString(fmt.Sprintf("• %s", item.Name))
		if item.Portion != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", item.Portion))
		}
		sb.WriteString(fmt.Sprintf(": %d cal\n", item.Calories))
	}
	sb.WriteString(fmt.Sprintf("Total: %d cal\n", est.TotalCalories))
	if est.Confidence == models.ConfidenceLow {
		sb.WriteString("⚠️ Low confidence - rough estimate")
		if est.Notes != "" {
			sb.WriteString(": " + oneLine(est.Notes))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n" + DayTotal(day))

	return Clamp(sb.String())
}

// DayTotal shows today's calories against the target
func DayTotal(day models.DayTotal) string {
	if day.Target <= 0 {
		return fmt.Sprintf("Today: %d cal", day.Total)
	}
	if day.Total > day.Target {
		return fmt.Sprintf("Today: %d / %d cal (%d over)", day.Total, day.Target, day.Total-day.Target)
	}
	return fmt.Sprintf("Today: %d / %d cal (%d left)", day.Total, day.Target, day.Remaining())
}

func Subtracted(amount int, day models.DayTotal) string {
	return fmt.Sprintf("Subtracted %d cal.\n%s", amount, DayTotal(day))
}

func TargetSet(day models.DayTotal) string {
	return fmt.Sprintf("Daily target set to %d cal.\n%s", day.Target, DayTotal(day))
}

func Reset(previous int) string {
	return fmt.Sprintf("Calories reset. You were at %d cal.", previous)
}

func Suggestions(remaining int, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return NotUnderstood
	}
	return Clamp(fmt.Sprintf("%d cal left today. Ideas:\n%s", remaining, text))
}

// Quote lists the ride options so the user can pick one to confirm
func Quote(r models.PendingRide) string {
	if len(r.Products) == 0 {
		return NotUnderstood
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🚗 %s → %s\n", r.Pickup, r.Destination))
	for i, p := range r.Products {
		sb.WriteString(fmt.Sprintf("%d. %s %s", i+1, lo.Ternary(p.Name != "", p.Name, "Ride"), p.Price))
		if p.ETA != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", p.ETA))
		}
		sb.WriteString("\n")
	}
	if len(r.Products) == 1 {
		sb.WriteString("Reply UBER CONFIRM to book. Quote valid 10 min.")
	} else {
		sb.WriteString("Reply UBER CONFIRM to book option 1, or UBER CONFIRM <n>. Quote valid 10 min.")
	}
	return Clamp(sb.String())
}

type Booking struct {
	DriverName string
	Vehicle    string
	ETA        string
	Price      string
}

func Booked(b Booking) string {
	var sb strings.Builder
	sb.WriteString("✅ Ride booked!")
	if b.DriverName != "" {
		sb.WriteString("\nDriver: " + b.DriverName)
	}
	if b.Vehicle != "" {
		sb.WriteString("\nVehicle: " + b.Vehicle)
	}
	if b.ETA != "" {
		sb.WriteString("\nPickup in: " + b.ETA)
	}
	if b.Price != "" {
		sb.WriteString("\nPrice: " + b.Price)
	}
	sb.WriteString("\nReply UBER STATUS for updates.")
	return sb.String()
}

func RideStatus(status models.RideStatus, driver, eta string) string {
	switch status {
	case models.RideCompleted:
		return "🏁 Your ride is complete."
	case models.RideRiderCanceled:
		return "Your ride was canceled."
	case models.RideDriverCanceled:
		return "❌ The driver canceled your ride. Text UBER <from> TO <to> to get a new quote."
	case "":
		return NotUnderstood
	}

	var sb strings.Builder
	sb.WriteString("🚗 Ride status: " + strings.ReplaceAll(string(status), "_", " "))
	if driver != "" {
		sb.WriteString("\nDriver: " + driver)
	}
	if eta != "" {
		sb.WriteString("\nETA: " + eta)
	}
	return sb.String()
}

func PriceExceeded(quoted, current string) string {
	return fmt.Sprintf("⚠️ Not booked: the price went up from %s to %s. Text UBER <from> TO <to> for a fresh quote.", quoted, current)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
