package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bborn/textline/internal/command"
	"github.com/bborn/textline/internal/format"
	"github.com/bborn/textline/internal/models"
	"github.com/bborn/textline/internal/ride"
	"github.com/bborn/textline/internal/session"
)

// job is the slow half of a ride command. It runs after the acknowledgment
// has been returned and its reply is sent out of band.
type job func(ctx context.Context) (string, error)

const (
	msgNoPendingRide = "No ride quote to confirm. Text UBER <pickup> TO <destination> to get prices first."
	msgNoRide        = "No active ride. Text UBER <pickup> TO <destination> to get prices."
	msgNoPendingAuth = "No Uber login is waiting for a code. Send your uber command again first."
	msgAuthNeeded    = "🔐 Uber needs a login code. You'll get it by text; reply UBER AUTH <code> within 10 minutes."
	msgLoggedIn      = "✅ Logged in to Uber. Please send your uber command again."

	msgUnreadablePrice = "⚠️ Not booked: I couldn't read the quoted price. Text UBER <from> TO <to> for a fresh quote."
)

// Actions recorded in a pending auth so the interrupted command can be re-run
const (
	actionQuote   = "quote"
	actionConfirm = "confirm"
	actionStatus  = "status"
	actionCancel  = "cancel"
)

// handleRide checks session preconditions right away and, when the command
// needs the ride agent, acknowledges immediately and finishes in the
// background.
func (b *Bot) handleRide(ctx context.Context, msg Inbound, cmd command.Command) (string, error) {
	ch, ok := b.channels[msg.Channel]
	if !ok {
		return "", fmt.Errorf("no channel %q for deferred replies", msg.Channel)
	}

	var ack string
	var run job
	var err error
	switch cmd.Type {
	case command.UberQuote:
		ack, run = b.uberQuote(msg, cmd)
	case command.UberConfirm:
		ack, run, err = b.uberConfirm(ctx, msg, cmd)
	case command.UberStatus:
		ack, run, err = b.uberStatus(ctx, msg)
	case command.UberCancel:
		ack, run, err = b.uberCancel(ctx, msg)
	case command.UberAuth:
		ack, run, err = b.uberAuth(ctx, msg, cmd)
	default:
		return "", fmt.Errorf("unhandled ride command %q", cmd.Type)
	}
	if err != nil || run == nil {
		return ack, err
	}

	b.detach(ctx, ch, msg, cmd, run)
	return ack, nil
}

// detach runs the job on its own goroutine, outside the lifetime of the
// inbound request, and always tries to text the sender the outcome.
func (b *Bot) detach(ctx context.Context, ch Channel, msg Inbound, cmd command.Command, run job) {
	ctx = context.WithoutCancel(ctx)
	taskID := uuid.NewString()
	log := b.log.With("task", taskID, "command", cmd.Type, "phone", msg.From)

	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		start := time.Now()
		reply := apology(cmd.Type)

		defer func() {
			if r := recover(); r != nil {
				log.Error("Ride task panicked", "elapsed", time.Since(start), "panic", r)
			}
			if err := ch.Send(ctx, msg.From, msg.To, format.Clamp(reply)); err != nil {
				log.Error("Failed to deliver deferred reply", "error", err)
			}
		}()

		text, err := run(ctx)
		if err != nil {
			log.Error("Ride task failed", "elapsed", time.Since(start), "error", err)
			return
		}
		log.Info("Ride task finished", "elapsed", time.Since(start))
		reply = text
	}()
}

func (b *Bot) uberQuote(msg Inbound, cmd command.Command) (string, job) {
	ack := fmt.Sprintf("🔎 Getting Uber prices from %s to %s. I'll text you back shortly.", cmd.Pickup, cmd.Destination)
	return ack, func(ctx context.Context) (string, error) {
		return b.runQuote(ctx, msg, cmd.Pickup, cmd.Destination)
	}
}

func (b *Bot) runQuote(ctx context.Context, msg Inbound, pickup, destination string) (string, error) {
	quote, err := b.rides.Quote(ctx, pickup, destination)
	if err != nil {
		return b.rideError(ctx, msg, err, models.PendingAuth{
			Action: actionQuote,
			Params: map[string]string{"pickup": pickup, "destination": destination},
		})
	}
	return b.savePendingRide(ctx, msg, quote)
}

func (b *Bot) uberConfirm(ctx context.Context, msg Inbound, cmd command.Command) (string, job, error) {
	pending, err := b.sessions.PendingRide(ctx, msg.From)
	if err != nil {
		return "", nil, err
	}
	if pending == nil {
		return msgNoPendingRide, nil, nil
	}
	if cmd.Product >= len(pending.Products) {
		return noOption(cmd.Product, pending), nil, nil
	}

	chosen := pending.Products[cmd.Product]
	ack := fmt.Sprintf("⏳ Booking %s (quoted %s)...", chosen.Name, chosen.Price)
	return ack, func(ctx context.Context) (string, error) {
		return b.runConfirm(ctx, msg, *pending, cmd.Product)
	}, nil
}

func noOption(product int, pending *models.PendingRide) string {
	return fmt.Sprintf("There is no option %d. Reply UBER CONFIRM 1-%d.", product+1, len(pending.Products))
}

func (b *Bot) runConfirm(ctx context.Context, msg Inbound, pending models.PendingRide, product int) (string, error) {
	booking, err := b.rides.Confirm(ctx, pending, product)

	var exceeded *ride.PriceExceededError
	if errors.As(err, &exceeded) {
		b.log.Warn("Ride price went up", "phone", msg.From, "quoted", exceeded.Quoted, "current", exceeded.Current)
		if err := b.sessions.Clear(ctx, msg.From, session.SlotPendingRide); err != nil {
			return "", err
		}
		return format.PriceExceeded(exceeded.Quoted, exceeded.Current), nil
	}
	if errors.Is(err, ride.ErrUnreadablePrice) {
		b.log.Warn("Refusing to book without a readable quote", "phone", msg.From, "quoted", pending.Products[product].Price)
		if err := b.sessions.Clear(ctx, msg.From, session.SlotPendingRide); err != nil {
			return "", err
		}
		return msgUnreadablePrice, nil
	}
	if err != nil {
		return b.rideError(ctx, msg, err, models.PendingAuth{
			Action: actionConfirm,
			Params: map[string]string{"product": strconv.Itoa(product)},
		})
	}

	active := models.ActiveRide{RequestID: booking.RequestID, CapturedAt: b.sessions.Now()}
	if err := b.sessions.SetActiveRide(ctx, msg.From, active); err != nil {
		return "", err
	}
	if err := b.sessions.Clear(ctx, msg.From, session.SlotPendingRide); err != nil {
		b.log.Error("Failed to clear pending ride", "phone", msg.From, "error", err)
	}
	return format.Booked(format.Booking{
		DriverName: booking.DriverName,
		Vehicle:    booking.Vehicle,
		ETA:        booking.ETA,
		Price:      booking.Price,
	}), nil
}

func (b *Bot) uberStatus(ctx context.Context, msg Inbound) (string, job, error) {
	active, err := b.sessions.ActiveRide(ctx, msg.From)
	if err != nil {
		return "", nil, err
	}
	if active == nil {
		pending, err := b.sessions.PendingRide(ctx, msg.From)
		if err != nil {
			return "", nil, err
		}
		if pending != nil {
			return fmt.Sprintf("Your ride to %s isn't booked yet. Reply UBER CONFIRM to book it.", pending.Destination), nil, nil
		}
		return msgNoRide, nil, nil
	}

	return "⏳ Checking on your ride...", func(ctx context.Context) (string, error) {
		return b.runStatus(ctx, msg, active.RequestID)
	}, nil
}

func (b *Bot) runStatus(ctx context.Context, msg Inbound, requestID string) (string, error) {
	status, err := b.rides.Status(ctx, requestID)
	if err != nil {
		return b.rideError(ctx, msg, err, models.PendingAuth{
			Action: actionStatus,
			Params: map[string]string{"request_id": requestID},
		})
	}
	if status.Status.Terminal() {
		if err := b.sessions.Clear(ctx, msg.From, session.SlotActiveRide); err != nil {
			return "", err
		}
	}
	return format.RideStatus(status.Status, status.DriverName, status.ETA), nil
}

// uberCancel cancels a booked ride if there is one, otherwise drops the
// waiting quote.
func (b *Bot) uberCancel(ctx context.Context, msg Inbound) (string, job, error) {
	active, err := b.sessions.ActiveRide(ctx, msg.From)
	if err != nil {
		return "", nil, err
	}
	if active != nil {
		return "⏳ Canceling your ride...", func(ctx context.Context) (string, error) {
			return b.runCancel(ctx, msg, active.RequestID)
		}, nil
	}

	pending, err := b.sessions.PendingRide(ctx, msg.From)
	if err != nil {
		return "", nil, err
	}
	if pending == nil {
		return "Nothing to cancel.", nil, nil
	}
	if err := b.sessions.Clear(ctx, msg.From, session.SlotPendingRide); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Quote to %s discarded.", pending.Destination), nil, nil
}

func (b *Bot) runCancel(ctx context.Context, msg Inbound, requestID string) (string, error) {
	if err := b.rides.Cancel(ctx, requestID); err != nil {
		return b.rideError(ctx, msg, err, models.PendingAuth{
			Action: actionCancel,
			Params: map[string]string{"request_id": requestID},
		})
	}
	if err := b.sessions.Clear(ctx, msg.From, session.SlotActiveRide); err != nil {
		return "", err
	}
	return "Your ride has been canceled.", nil
}

func (b *Bot) uberAuth(ctx context.Context, msg Inbound, cmd command.Command) (string, job, error) {
	pending, err := b.sessions.PendingAuth(ctx, msg.From)
	if err != nil {
		return "", nil, err
	}
	if pending == nil {
		return msgNoPendingAuth, nil, nil
	}

	return "🔐 Submitting your code...", func(ctx context.Context) (string, error) {
		quote, err := b.rides.ResumeWithAuthCode(ctx, cmd.Code, *pending)
		var challenge *ride.AuthChallenge
		if errors.As(err, &challenge) {
			// Keep the original action and give the user a fresh window
			retry := *pending
			retry.CapturedAt = b.sessions.Now()
			if err := b.sessions.SetPendingAuth(ctx, msg.From, retry); err != nil {
				return "", err
			}
			return "That code didn't work. Reply UBER AUTH <code> with the newest code.", nil
		}
		if err != nil {
			return "", err
		}

		if err := b.sessions.Clear(ctx, msg.From, session.SlotPendingAuth); err != nil {
			b.log.Error("Failed to clear pending auth", "phone", msg.From, "error", err)
		}
		if quote != nil {
			return b.savePendingRide(ctx, msg, quote)
		}
		return b.replay(ctx, msg, *pending)
	}, nil
}

// replay re-runs the action that was interrupted by a login challenge, so
// bookings still go through the price check and session bookkeeping.
func (b *Bot) replay(ctx context.Context, msg Inbound, auth models.PendingAuth) (string, error) {
	b.log.Info("Resuming ride action after login", "phone", msg.From, "action", auth.Action)

	switch auth.Action {
	case actionConfirm:
		pending, err := b.sessions.PendingRide(ctx, msg.From)
		if err != nil {
			return "", err
		}
		if pending == nil {
			return "✅ Logged in to Uber, but your quote expired. " + msgNoPendingRide, nil
		}
		product, err := strconv.Atoi(auth.Params["product"])
		if err != nil || product < 0 || product >= len(pending.Products) {
			return noOption(product, pending), nil
		}
		return b.runConfirm(ctx, msg, *pending, product)

	case actionStatus:
		if id := auth.Params["request_id"]; id != "" {
			return b.runStatus(ctx, msg, id)
		}

	case actionCancel:
		if id := auth.Params["request_id"]; id != "" {
			return b.runCancel(ctx, msg, id)
		}
	}

	return msgLoggedIn, nil
}

func (b *Bot) savePendingRide(ctx context.Context, msg Inbound, quote *ride.Quote) (string, error) {
	pending := models.PendingRide{
		Pickup:      quote.Pickup,
		Destination: quote.Destination,
		Products:    quote.Products,
		CapturedAt:  b.sessions.Now(),
	}
	if err := b.sessions.SetPendingRide(ctx, msg.From, pending); err != nil {
		return "", err
	}
	return format.Quote(pending), nil
}

// rideError turns an authentication challenge into a pending auth and a
// prompt for the code. Any other error is passed through.
func (b *Bot) rideError(ctx context.Context, msg Inbound, err error, resume models.PendingAuth) (string, error) {
	var challenge *ride.AuthChallenge
	if !errors.As(err, &challenge) {
		return "", err
	}
	resume.CapturedAt = b.sessions.Now()
	if err := b.sessions.SetPendingAuth(ctx, msg.From, resume); err != nil {
		return "", err
	}
	b.log.Info("Ride service asked for a login code", "phone", msg.From, "action", resume.Action)
	return msgAuthNeeded, nil
}
