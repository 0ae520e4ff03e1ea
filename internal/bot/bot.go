package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bborn/textline/internal/command"
	"github.com/bborn/textline/internal/format"
	"github.com/bborn/textline/internal/models"
	"github.com/bborn/textline/internal/ride"
	"github.com/bborn/textline/internal/session"
)

// Inbound is one message from a user, whatever channel it came in on
type Inbound struct {
	Channel   string
	From      string // sender identity, also the session key
	To        string // number the sender wrote to; deferred replies are sent from it
	Body      string
	MediaURL  string
	MediaType string
}

// Channel delivers out-of-band replies and fetches attached media
type Channel interface {
	Name() string
	Send(ctx context.Context, to, from, body string) error
	FetchMedia(ctx context.Context, ref string) ([]byte, string, error)
}

type Transit interface {
	Arrivals(ctx context.Context, stopCode, route string) (*models.StopArrivals, error)
	ServiceAlerts(ctx context.Context, route string) ([]models.ServiceAlert, error)
}

type Estimator interface {
	EstimateFromText(ctx context.Context, description string) (*models.Estimate, error)
	EstimateFromImage(ctx context.Context, data []byte, mediaType, note string) (*models.Estimate, error)
	Suggest(ctx context.Context, calories int, descriptors string) (string, error)
}

type RideAgent interface {
	Quote(ctx context.Context, pickup, destination string) (*ride.Quote, error)
	Confirm(ctx context.Context, pending models.PendingRide, product int) (*ride.Booking, error)
	Status(ctx context.Context, requestID string) (*ride.Status, error)
	Cancel(ctx context.Context, requestID string) error
	ResumeWithAuthCode(ctx context.Context, code string, auth models.PendingAuth) (*ride.Quote, error)
}

type Calories interface {
	Day(ctx context.Context, phone, day string) (models.DayTotal, error)
	Add(ctx context.Context, phone, day string, calories int) (models.DayTotal, error)
	Subtract(ctx context.Context, phone, day string, calories int) (models.DayTotal, error)
	SetTarget(ctx context.Context, phone, day string, target int) (models.DayTotal, error)
	Reset(ctx context.Context, phone, day string) (int, error)
}

type Config struct {
	Location       *time.Location // civic day for calorie totals
	AllowedSenders []string       // empty allows everyone
	Logger         *slog.Logger
}

type Services struct {
	Sessions  *session.Store
	Calories  Calories
	Transit   Transit
	Estimator Estimator
	Rides     RideAgent
}

// Bot parses each inbound message and runs the matching command
type Bot struct {
	sessions  *session.Store
	calories  Calories
	transit   Transit
	estimator Estimator
	rides     RideAgent

	channels map[string]Channel
	loc      *time.Location
	allowed  []string
	log      *slog.Logger

	tasks sync.WaitGroup
}

func New(cfg Config, svc Services) *Bot {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		sessions:  svc.Sessions,
		calories:  svc.Calories,
		transit:   svc.Transit,
		estimator: svc.Estimator,
		rides:     svc.Rides,
		channels:  make(map[string]Channel),
		loc:       loc,
		allowed:   cfg.AllowedSenders,
		log:       logger,
	}
}

// RegisterChannel makes ch available for deferred replies and media
// fetches on messages whose Channel matches ch.Name(). Call before Handle.
func (b *Bot) RegisterChannel(ch Channel) {
	b.channels[ch.Name()] = ch
}

// Handle processes one message and returns the immediate reply. An empty
// reply means nothing should be sent back in the response.
func (b *Bot) Handle(ctx context.Context, msg Inbound) string {
	if len(b.allowed) > 0 && !lo.Contains(b.allowed, msg.From) {
		b.log.Warn("Ignoring message from unknown sender", "phone", msg.From, "channel", msg.Channel)
		return ""
	}

	start := time.Now()
	cmd := command.Parse(msg.Body, msg.MediaURL != "", msg.MediaType)

	var reply string
	var err error
	if cmd.Slow() {
		reply, err = b.handleRide(ctx, msg, cmd)
	} else {
		reply, err = b.handleCommand(ctx, msg, cmd)
	}

	if err != nil {
		b.log.Error("Command failed",
			"command", cmd.Type, "phone", msg.From, "elapsed", time.Since(start), "error", err)
		return apology(cmd.Type)
	}

	b.log.Info("Handled message", "command", cmd.Type, "phone", msg.From, "elapsed", time.Since(start))
	return format.Clamp(reply)
}

// Wait blocks until every deferred ride task has delivered its reply
func (b *Bot) Wait() {
	b.tasks.Wait()
}

func (b *Bot) handleCommand(ctx context.Context, msg Inbound, cmd command.Command) (string, error) {
	switch cmd.Type {
	case command.Help:
		return format.Help(), nil

	case command.ResetCalories:
		previous, err := b.calories.Reset(ctx, msg.From, b.today())
		if err != nil {
			return "", err
		}
		return format.Reset(previous), nil

	case command.Total:
		day, err := b.calories.Day(ctx, msg.From, b.today())
		if err != nil {
			return "", err
		}
		return format.DayTotal(day), nil

	case command.Subtract:
		day, err := b.calories.Subtract(ctx, msg.From, b.today(), cmd.Amount)
		if err != nil {
			return "", err
		}
		return format.Subtracted(cmd.Amount, day), nil

	case command.SetTarget:
		if cmd.Amount == 0 {
			return "Target must be more than 0. Example: TARGET 1800", nil
		}
		day, err := b.calories.SetTarget(ctx, msg.From, b.today(), cmd.Amount)
		if err != nil {
			return "", err
		}
		return format.TargetSet(day), nil

	case command.Suggestions:
		return b.handleSuggestions(ctx, msg, cmd)

	case command.FoodQuery:
		est, err := b.estimator.EstimateFromText(ctx, cmd.Text)
		if err != nil {
			return "", err
		}
		return b.logEstimate(ctx, msg, est)

	case command.ImageCalorie:
		return b.handleImage(ctx, msg, cmd)

	case command.StopQuery:
		return b.handleStopQuery(ctx, msg, cmd.StopCode, cmd.Route)

	case command.Refresh:
		last, err := b.sessions.BusQuery(ctx, msg.From)
		if err != nil {
			return "", err
		}
		if last == nil {
			return "No recent bus query to refresh. Text a 6-digit stop code first.", nil
		}
		return b.handleStopQuery(ctx, msg, last.StopCode, last.Route)

	case command.ServiceChanges:
		alerts, err := b.transit.ServiceAlerts(ctx, cmd.Route)
		if err != nil {
			return "", err
		}
		return format.ServiceAlerts(cmd.Route, alerts), nil

	case command.Error:
		return cmd.Message, nil
	}

	return "", fmt.Errorf("unhandled command %q", cmd.Type)
}

func (b *Bot) handleStopQuery(ctx context.Context, msg Inbound, stopCode, route string) (string, error) {
	arrivals, err := b.transit.Arrivals(ctx, stopCode, route)
	if err != nil {
		return "", err
	}
	if arrivals.Found {
		q := models.BusQuery{StopCode: stopCode, Route: route, CapturedAt: b.sessions.Now()}
		if err := b.sessions.SetBusQuery(ctx, msg.From, q); err != nil {
			b.log.Error("Failed to save bus query", "phone", msg.From, "error", err)
		}
	}
	return format.Arrivals(arrivals), nil
}

func (b *Bot) handleImage(ctx context.Context, msg Inbound, cmd command.Command) (string, error) {
	ch, ok := b.channels[msg.Channel]
	if !ok {
		return "", fmt.Errorf("no channel %q to fetch media from", msg.Channel)
	}
	data, contentType, err := ch.FetchMedia(ctx, msg.MediaURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch media: %w", err)
	}
	if contentType == "" {
		contentType = msg.MediaType
	}

	est, err := b.estimator.EstimateFromImage(ctx, data, contentType, cmd.Text)
	if err != nil {
		return "", err
	}
	return b.logEstimate(ctx, msg, est)
}

// logEstimate adds a successful estimate to today's total
func (b *Bot) logEstimate(ctx context.Context, msg Inbound, est *models.Estimate) (string, error) {
	if est == nil || !est.Success {
		if est != nil {
			b.log.Warn("Unparseable estimate", "phone", msg.From, "raw", est.RawResponse)
		}
		return format.NotUnderstood, nil
	}
	day, err := b.calories.Add(ctx, msg.From, b.today(), est.TotalCalories)
	if err != nil {
		return "", err
	}
	return format.Estimate(est, day), nil
}

func (b *Bot) handleSuggestions(ctx context.Context, msg Inbound, cmd command.Command) (string, error) {
	day, err := b.calories.Day(ctx, msg.From, b.today())
	if err != nil {
		return "", err
	}
	text, err := b.estimator.Suggest(ctx, day.Remaining(), cmd.Descriptors)
	if err != nil {
		return "", err
	}
	return format.Suggestions(day.Remaining(), text), nil
}

func (b *Bot) today() string {
	return b.sessions.Now().In(b.loc).Format("2006-01-02")
}

func apology(t command.Type) string {
	switch t {
	case command.StopQuery, command.Refresh:
		return "Sorry, I couldn't get bus times right now. Try again in a minute."
	case command.ServiceChanges:
		return "Sorry, I couldn't get service changes right now. Try again in a minute."
	case command.FoodQuery, command.ImageCalorie:
		return "Sorry, I couldn't estimate that right now. Try again shortly."
	case command.Suggestions:
		return "Sorry, I couldn't come up with suggestions right now."
	case command.ResetCalories, command.Total, command.Subtract, command.SetTarget:
		return "Sorry, I couldn't update your calories. Try again."
	case command.UberQuote, command.UberConfirm, command.UberStatus, command.UberCancel, command.UberAuth:
		return "Sorry, something went wrong talking to Uber. Try again in a few minutes."
	}
	return "Sorry, something went wrong. Try again."
}
