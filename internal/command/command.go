// Package command turns inbound message text into a typed Command.
package command

type Type string

const (
	Help           Type = "help"
	ResetCalories  Type = "reset_calories"
	Total          Type = "total"
	Subtract       Type = "subtract"
	SetTarget      Type = "set_target"
	Suggestions    Type = "suggestions"
	ImageCalorie   Type = "image_calorie"
	Refresh        Type = "refresh"
	StopQuery      Type = "stop_query"
	ServiceChanges Type = "service_changes"
	UberQuote      Type = "uber_quote"
	UberConfirm    Type = "uber_confirm"
	UberStatus     Type = "uber_status"
	UberCancel     Type = "uber_cancel"
	UberAuth       Type = "uber_auth"
	FoodQuery      Type = "food_query"
	Error          Type = "error"
)

// Command is the parsed form of one message. Only the fields relevant to
// Type are set.
type Command struct {
	Type Type

	Amount      int    // subtract, set_target
	Descriptors string // suggestions
	Text        string // image_calorie context, food_query description
	StopCode    string // stop_query
	Route       string // stop_query, service_changes
	Pickup      string // uber_quote
	Destination string // uber_quote
	Product     int    // uber_confirm, zero-based
	Code        string // uber_auth
	Message     string // error
}

// Slow reports whether the command goes through the ride agent and must be
// answered out of band.
func (c Command) Slow() bool {
	switch c.Type {
	case UberQuote, UberConfirm, UberStatus, UberCancel, UberAuth:
		return true
	}
	return false
}

const (
	HelpHint = "Sorry, I didn't get that. Text HOW for a list of commands."
	UberHint = "Uber commands:\n" +
		"uber <pickup> to <destination>\n" +
		"uber confirm [option]\n" +
		"uber status\n" +
		"uber cancel\n" +
		"uber auth <code>"
)
