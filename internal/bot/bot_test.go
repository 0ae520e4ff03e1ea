package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bborn/textline/internal/db"
	"github.com/bborn/textline/internal/models"
	"github.com/bborn/textline/internal/ride"
	"github.com/bborn/textline/internal/session"
)

const (
	phone   = "+15551230000"
	service = "+15559870000"
)

type sent struct {
	to, from, body string
}

type fakeChannel struct {
	mu    sync.Mutex
	sent  []sent
	media []byte
}

func (c *fakeChannel) Name() string { return "sms" }

func (c *fakeChannel) Send(_ context.Context, to, from, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{to, from, body})
	return nil
}

func (c *fakeChannel) FetchMedia(_ context.Context, ref string) ([]byte, string, error) {
	return c.media, "image/jpeg", nil
}

func (c *fakeChannel) messages() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.sent...)
}

type arrivalsCall struct{ stopCode, route string }

type fakeTransit struct {
	calls    []arrivalsCall
	arrivals *models.StopArrivals
	err      error
}

func (f *fakeTransit) Arrivals(_ context.Context, stopCode, route string) (*models.StopArrivals, error) {
	f.calls = append(f.calls, arrivalsCall{stopCode, route})
	if f.err != nil {
		return nil, f.err
	}
	a := *f.arrivals
	a.StopCode, a.Route = stopCode, route
	return &a, nil
}

func (f *fakeTransit) ServiceAlerts(_ context.Context, route string) ([]models.ServiceAlert, error) {
	return []models.ServiceAlert{{Routes: []string{route}, Summary: "Detour on 5 Av"}}, f.err
}

type fakeEstimator struct {
	estimate *models.Estimate
	err      error
	image    []byte
	note     string
}

func (f *fakeEstimator) EstimateFromText(context.Context, string) (*models.Estimate, error) {
	return f.estimate, f.err
}

func (f *fakeEstimator) EstimateFromImage(_ context.Context, data []byte, _ string, note string) (*models.Estimate, error) {
	f.image, f.note = data, note
	return f.estimate, f.err
}

func (f *fakeEstimator) Suggest(_ context.Context, calories int, descriptors string) (string, error) {
	return "Salad", f.err
}

type fakeRides struct {
	mu           sync.Mutex
	calls        []string
	quote        *ride.Quote
	quoteErr     error
	booking      *ride.Booking
	livePrice    string
	status       *ride.Status
	resumeQuote  *ride.Quote
	resumeErr    error
	panicOnQuote bool
	ctxErr       error

	// returned by the next call only, then cleared
	confirmErr error
	statusErr  error
	cancelErr  error
}

func (f *fakeRides) takeErr(err *error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := *err
	*err = nil
	return e
}

func (f *fakeRides) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeRides) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRides) Quote(ctx context.Context, pickup, destination string) (*ride.Quote, error) {
	f.record("quote")
	if f.panicOnQuote {
		panic("browser crashed")
	}
	f.ctxErr = ctx.Err()
	return f.quote, f.quoteErr
}

func (f *fakeRides) Confirm(_ context.Context, pending models.PendingRide, product int) (*ride.Booking, error) {
	f.record("confirm")
	if err := f.takeErr(&f.confirmErr); err != nil {
		return nil, err
	}
	if err := ride.CheckPrice(pending.Products[product].Price, f.livePrice, 2); err != nil {
		return nil, err
	}
	return f.booking, nil
}

func (f *fakeRides) Status(context.Context, string) (*ride.Status, error) {
	f.record("status")
	if err := f.takeErr(&f.statusErr); err != nil {
		return nil, err
	}
	return f.status, nil
}

func (f *fakeRides) Cancel(context.Context, string) error {
	f.record("cancel")
	return f.takeErr(&f.cancelErr)
}

func (f *fakeRides) ResumeWithAuthCode(_ context.Context, code string, auth models.PendingAuth) (*ride.Quote, error) {
	f.record("auth:" + code + ":" + auth.Action)
	return f.resumeQuote, f.resumeErr
}

type harness struct {
	bot       *Bot
	sessions  *session.Store
	channel   *fakeChannel
	transit   *fakeTransit
	estimator *fakeEstimator
	rides     *fakeRides
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := &harness{
		channel:   &fakeChannel{},
		transit:   &fakeTransit{arrivals: &models.StopArrivals{Found: true, StopName: "5 AV/UNION ST"}},
		estimator: &fakeEstimator{},
		rides:     &fakeRides{},
		now:       time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	h.sessions = session.New(session.NewMemoryBackend(time.Minute), session.WithClock(func() time.Time { return h.now }))
	h.bot = New(Config{
		Location: time.UTC,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Services{
		Sessions:  h.sessions,
		Calories:  database.Calories(2000),
		Transit:   h.transit,
		Estimator: h.estimator,
		Rides:     h.rides,
	})
	h.bot.RegisterChannel(h.channel)
	return h
}

func (h *harness) send(body string) string {
	return h.bot.Handle(context.Background(), Inbound{Channel: "sms", From: phone, To: service, Body: body})
}

func (h *harness) deferred(t *testing.T) []sent {
	t.Helper()
	h.bot.Wait()
	return h.channel.messages()
}

func TestStopQueryThenRefresh(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 7; i++ {
		h.transit.arrivals.Arrivals = append(h.transit.arrivals.Arrivals, models.Arrival{Route: "B63", Destination: "BAY RIDGE", StopsAway: i + 1})
	}

	reply := h.send("308209")
	assert.Contains(t, reply, "5 AV/UNION ST")
	assert.Contains(t, reply, "5. B63")
	assert.NotContains(t, reply, "6. B63")
	assert.Contains(t, reply, "...and 2 more")
	require.Equal(t, []arrivalsCall{{"308209", ""}}, h.transit.calls)

	q, err := h.sessions.BusQuery(context.Background(), phone)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "308209", q.StopCode)

	h.now = h.now.Add(5 * time.Minute)
	reply = h.send("R")
	assert.Contains(t, reply, "5 AV/UNION ST")
	assert.Equal(t, []arrivalsCall{{"308209", ""}, {"308209", ""}}, h.transit.calls)
	assert.Empty(t, h.channel.messages())
}

func TestRefreshAfterExpiry(t *testing.T) {
	h := newHarness(t)

	h.send("308209 B63")
	h.now = h.now.Add(21 * time.Minute)

	assert.Contains(t, h.send("r"), "No recent bus query")
	assert.Len(t, h.transit.calls, 1)
}

func TestStopNotFoundIsNotRemembered(t *testing.T) {
	h := newHarness(t)
	h.transit.arrivals = &models.StopArrivals{Found: false}

	assert.Contains(t, h.send("999999"), "not found")
	q, err := h.sessions.BusQuery(context.Background(), phone)
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestTransitFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.transit.err = errors.New("connection refused")

	reply := h.send("308209")
	assert.Equal(t, "Sorry, I couldn't get bus times right now. Try again in a minute.", reply)
	assert.NotContains(t, reply, "connection refused")
}

func TestServiceChanges(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "⚠️ B63 service changes (1):\n• Detour on 5 Av", h.send("c b63"))
}

func TestFoodQueryAddsToTotal(t *testing.T) {
	h := newHarness(t)
	h.estimator.estimate = &models.Estimate{
		Success:       true,
		Items:         []models.FoodItem{{Name: "eggs", Calories: 156}, {Name: "toast", Calories: 80}},
		TotalCalories: 236,
		Confidence:    models.ConfidenceHigh,
	}

	reply := h.send("2 eggs and toast")
	assert.Contains(t, reply, "Total: 236 cal")
	assert.Contains(t, reply, "Today: 236 / 2000 cal")

	h.send("2 eggs and toast")
	assert.Equal(t, "Today: 472 / 2000 cal (1528 left)", h.send("total"))
}

func TestUnparseableEstimateIsNotCounted(t *testing.T) {
	h := newHarness(t)
	h.estimator.estimate = &models.Estimate{Success: false, RawResponse: "hmm"}

	assert.Equal(t, "Sorry, I couldn't make sense of that. Please try again.", h.send("mystery stew"))
	assert.Equal(t, "Today: 0 / 2000 cal (2000 left)", h.send("total"))
}

func TestImageCalorie(t *testing.T) {
	h := newHarness(t)
	h.channel.media = []byte{1, 2, 3}
	h.estimator.estimate = &models.Estimate{Success: true, Items: []models.FoodItem{{Name: "pizza", Calories: 285}}, TotalCalories: 285}

	reply := h.bot.Handle(context.Background(), Inbound{
		Channel: "sms", From: phone, To: service, Body: "lunch",
		MediaURL: "https://api.twilio.com/media/1", MediaType: "image/jpeg",
	})
	assert.Contains(t, reply, "pizza")
	assert.Equal(t, []byte{1, 2, 3}, h.estimator.image)
	assert.Equal(t, "lunch", h.estimator.note)
}

func TestResetAndSubtract(t *testing.T) {
	h := newHarness(t)
	h.estimator.estimate = &models.Estimate{Success: true, Items: []models.FoodItem{{Name: "bagel", Calories: 300}}, TotalCalories: 300}
	h.send("bagel")

	assert.Equal(t, "Subtracted 20 cal.\nToday: 280 / 2000 cal (1720 left)", h.send("sub 20"))
	assert.Equal(t, "Subtracted 500 cal.\nToday: 0 / 2000 cal (2000 left)", h.send("sub 500"))

	h.send("bagel")
	assert.Equal(t, "Calories reset. You were at 300 cal.", h.send("reset calories"))
	assert.Equal(t, "Today: 0 / 2000 cal (2000 left)", h.send("total"))
}

func TestSetTargetAndSuggestions(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "Daily target set to 1800 cal.\nToday: 0 / 1800 cal (1800 left)", h.send("target 1800"))
	assert.Equal(t, "1800 cal left today. Ideas:\nSalad", h.send("suggest"))
	assert.Contains(t, h.send("target 0"), "more than 0")
}

func TestHelpAndError(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.send("how"), "Commands:")
	assert.Contains(t, h.send("a"), "Text HOW")
}

func TestAllowedSenders(t *testing.T) {
	h := newHarness(t)
	h.bot.allowed = []string{"+15550000000"}

	assert.Empty(t, h.send("total"))
}

func TestUberQuoteIsDeferred(t *testing.T) {
	h := newHarness(t)
	h.rides.quote = &ride.Quote{
		Pickup:      "times square",
		Destination: "jfk",
		Products:    []models.RideProduct{{Name: "UberX", Price: "$62.40", ETA: "4 min"}},
	}

	ack := h.send("uber times square to jfk")
	assert.Equal(t, "🔎 Getting Uber prices from times square to jfk. I'll text you back shortly.", ack)

	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, phone, msgs[0].to)
	assert.Equal(t, service, msgs[0].from)
	assert.Contains(t, msgs[0].body, "1. UberX $62.40 (4 min)")

	pending, err := h.sessions.PendingRide(context.Background(), phone)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "jfk", pending.Destination)
	assert.True(t, pending.CapturedAt.Equal(h.now))
}

func TestDeferredTaskOutlivesRequest(t *testing.T) {
	h := newHarness(t)
	h.rides.quote = &ride.Quote{Products: []models.RideProduct{{Name: "UberX", Price: "$10"}}}

	ctx, cancel := context.WithCancel(context.Background())
	h.bot.Handle(ctx, Inbound{Channel: "sms", From: phone, To: service, Body: "uber home to work"})
	cancel()

	require.Len(t, h.deferred(t), 1)
	assert.NoError(t, h.rides.ctxErr)
}

func TestUberQuoteFailureStillNotifies(t *testing.T) {
	h := newHarness(t)
	h.rides.quoteErr = errors.New("browser timeout")

	h.send("uber home to work")

	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Sorry, something went wrong talking to Uber. Try again in a few minutes.", msgs[0].body)
}

func TestUberQuotePanicStillNotifies(t *testing.T) {
	h := newHarness(t)
	h.rides.panicOnQuote = true

	h.send("uber home to work")

	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "Sorry")
}

func TestConfirmWithoutQuote(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, msgNoPendingRide, h.send("uber confirm"))
	assert.Empty(t, h.deferred(t))
	assert.Empty(t, h.rides.Calls())
}

func TestConfirmAfterQuoteExpires(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sessions.SetPendingRide(context.Background(), phone, models.PendingRide{
		Products: []models.RideProduct{{Name: "UberX", Price: "$20"}},
	}))
	h.now = h.now.Add(11 * time.Minute)

	assert.Equal(t, msgNoPendingRide, h.send("uber confirm"))
	assert.Empty(t, h.rides.Calls())
}

func pendingJFK() models.PendingRide {
	return models.PendingRide{
		Pickup:      "times square",
		Destination: "jfk",
		Products: []models.RideProduct{
			{Name: "UberX", Price: "$62.40"},
			{Name: "Comfort", Price: "$78.10"},
		},
	}
}

func TestConfirmBooksRide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingRide(ctx, phone, pendingJFK()))
	h.rides.livePrice = "$79.00"
	h.rides.booking = &ride.Booking{RequestID: "r-1", DriverName: "Ana", Price: "$79.00"}

	assert.Equal(t, "⏳ Booking Comfort (quoted $78.10)...", h.send("uber confirm 2"))

	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "Ride booked")

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "r-1", active.RequestID)

	pending, err := h.sessions.PendingRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestConfirmRefusesPriceIncrease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingRide(ctx, phone, pendingJFK()))
	h.rides.livePrice = "$70.00"
	h.rides.booking = &ride.Booking{RequestID: "r-1"}

	h.send("uber confirm")

	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "$62.40")
	assert.Contains(t, msgs[0].body, "$70.00")

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestConfirmUnknownOption(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sessions.SetPendingRide(context.Background(), phone, pendingJFK()))

	assert.Equal(t, "There is no option 3. Reply UBER CONFIRM 1-2.", h.send("uber confirm 3"))
	assert.Empty(t, h.rides.Calls())
}

func TestAuthChallengeAndResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rides.quoteErr = &ride.AuthChallenge{Message: "code sent"}

	h.send("uber home to work")
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgAuthNeeded, msgs[0].body)

	auth, err := h.sessions.PendingAuth(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "quote", auth.Action)
	assert.Equal(t, "work", auth.Params["destination"])

	h.rides.resumeQuote = &ride.Quote{Pickup: "home", Destination: "work", Products: []models.RideProduct{{Name: "UberX", Price: "$15"}}}
	assert.Equal(t, "🔐 Submitting your code...", h.send("uber auth 4821"))

	msgs = h.deferred(t)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].body, "1. UberX $15")
	assert.Equal(t, []string{"quote", "auth:4821:quote"}, h.rides.Calls())

	auth, err = h.sessions.PendingAuth(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, auth)

	pending, err := h.sessions.PendingRide(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "work", pending.Destination)
}

func TestAuthWithoutChallenge(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, msgNoPendingAuth, h.send("uber auth 1234"))
	assert.Empty(t, h.rides.Calls())
}

func TestAuthWrongCodeKeepsPendingAuth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingAuth(ctx, phone, models.PendingAuth{Action: "status"}))
	h.rides.resumeErr = &ride.AuthChallenge{}

	h.send("uber auth 0000")
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "didn't work")

	auth, err := h.sessions.PendingAuth(ctx, phone)
	require.NoError(t, err)
	assert.NotNil(t, auth)
}

func TestAuthWithoutQuoteSaysLoggedIn(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sessions.SetPendingAuth(context.Background(), phone, models.PendingAuth{Action: "status"}))

	h.send("uber auth 1234")
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "Logged in")
}

func TestStatusClearsTerminalRide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetActiveRide(ctx, phone, models.ActiveRide{RequestID: "r-1"}))

	h.rides.status = &ride.Status{Status: models.RideArriving, DriverName: "Ana", ETA: "2 min"}
	h.send("uber status")
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].body, "arriving")
	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.NotNil(t, active)

	h.rides.status = &ride.Status{Status: models.RideCompleted}
	h.send("uber status")
	msgs = h.deferred(t)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].body, "complete")
	active, err = h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStatusWithoutRide(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, msgNoRide, h.send("uber status"))

	require.NoError(t, h.sessions.SetPendingRide(context.Background(), phone, pendingJFK()))
	assert.Contains(t, h.send("uber status"), "isn't booked yet")
	assert.Empty(t, h.rides.Calls())
}

func TestCancelPrefersActiveRide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingRide(ctx, phone, pendingJFK()))
	require.NoError(t, h.sessions.SetActiveRide(ctx, phone, models.ActiveRide{RequestID: "r-1"}))

	assert.Equal(t, "⏳ Canceling your ride...", h.send("uber cancel"))
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Your ride has been canceled.", msgs[0].body)
	assert.Equal(t, []string{"cancel"}, h.rides.Calls())

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
	pending, err := h.sessions.PendingRide(ctx, phone)
	require.NoError(t, err)
	assert.NotNil(t, pending)

	assert.Equal(t, "Quote to jfk discarded.", h.send("uber cancel"))
	assert.Equal(t, "Nothing to cancel.", h.send("uber cancel"))
	assert.Equal(t, []string{"cancel"}, h.rides.Calls())
}

func TestRideCommandWithoutChannel(t *testing.T) {
	h := newHarness(t)
	reply := h.bot.Handle(context.Background(), Inbound{Channel: "fax", From: phone, Body: "uber home to work"})
	assert.Contains(t, reply, "Sorry")
	assert.Empty(t, h.rides.Calls())
}

func TestConfirmResumesAfterLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingRide(ctx, phone, pendingJFK()))
	h.rides.confirmErr = &ride.AuthChallenge{}
	h.rides.livePrice = "$63.00"
	h.rides.booking = &ride.Booking{RequestID: "r-9", DriverName: "Ana"}

	h.send("uber confirm 2")
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgAuthNeeded, msgs[0].body)

	auth, err := h.sessions.PendingAuth(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "confirm", auth.Action)
	assert.Equal(t, "1", auth.Params["product"])

	h.rides.livePrice = "$78.10"
	h.send("uber auth 4821")
	msgs = h.deferred(t)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].body, "Ride booked")
	assert.Equal(t, []string{"confirm", "auth:4821:confirm", "confirm"}, h.rides.Calls())

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "r-9", active.RequestID)

	pending, err := h.sessions.PendingRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, pending)
	auth, err = h.sessions.PendingAuth(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestConfirmAfterLoginStillChecksPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingRide(ctx, phone, pendingJFK()))
	h.rides.confirmErr = &ride.AuthChallenge{}
	h.rides.booking = &ride.Booking{RequestID: "r-9"}

	h.send("uber confirm")
	h.deferred(t)

	h.rides.livePrice = "$70.00"
	h.send("uber auth 4821")
	msgs := h.deferred(t)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].body, "$62.40")
	assert.Contains(t, msgs[1].body, "$70.00")

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStatusResumesAfterLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetActiveRide(ctx, phone, models.ActiveRide{RequestID: "r-1"}))
	h.rides.statusErr = &ride.AuthChallenge{}
	h.rides.status = &ride.Status{Status: models.RideCompleted}

	h.send("uber status")
	h.deferred(t)
	auth, err := h.sessions.PendingAuth(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "r-1", auth.Params["request_id"])

	h.send("uber auth 4821")
	msgs := h.deferred(t)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].body, "complete")
	assert.Equal(t, []string{"status", "auth:4821:status", "status"}, h.rides.Calls())

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCancelResumesAfterLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetActiveRide(ctx, phone, models.ActiveRide{RequestID: "r-1"}))
	h.rides.cancelErr = &ride.AuthChallenge{}

	h.send("uber cancel")
	h.deferred(t)

	h.send("uber auth 4821")
	msgs := h.deferred(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Your ride has been canceled.", msgs[1].body)
	assert.Equal(t, []string{"cancel", "auth:4821:cancel", "cancel"}, h.rides.Calls())

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestConfirmRefusesUnreadableQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.SetPendingRide(ctx, phone, models.PendingRide{
		Destination: "jfk",
		Products:    []models.RideProduct{{Name: "UberX", Price: "—"}},
	}))
	h.rides.livePrice = "$40.00"
	h.rides.booking = &ride.Booking{RequestID: "r-1"}

	h.send("uber confirm")
	msgs := h.deferred(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgUnreadablePrice, msgs[0].body)

	active, err := h.sessions.ActiveRide(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, active)
}
