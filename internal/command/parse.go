package command

import (
	"strings"

	"github.com/park285/arcade-count-bot/internal/arcade"
)

// Command is a parsed message, one concrete type per intent.
type Command interface {
	Intent() Intent
}

type CreateVenue struct{ Name string }

type AddAlias struct{ Venue, Alias string }

type RemoveAlias struct{ Venue, Alias string }

// QueryCount asks for the count of the venue known as Alias.
type QueryCount struct{ Alias string }

// ReportCount carries the report payload with the keyword and the trailing
// count suffix removed, e.g. "AA5" or "AA 5".
type ReportCount struct{ Payload string }

type ScheduledReset struct{}

func (CreateVenue) Intent() Intent    { return IntentCreateVenue }
func (AddAlias) Intent() Intent       { return IntentAddAlias }
func (RemoveAlias) Intent() Intent    { return IntentRemoveAlias }
func (QueryCount) Intent() Intent     { return IntentQueryCount }
func (ReportCount) Intent() Intent    { return IntentReportCount }
func (ScheduledReset) Intent() Intent { return IntentScheduledReset }

// Parse turns text into the command for intent. Keyword commands must start
// with their keyword and carry a fixed number of tokens; anything else is
// arcade.ErrMalformedCommand. IntentNone parses to a nil command.
func Parse(intent Intent, text string) (Command, error) {
	fields := strings.Fields(text)
	switch intent {
	case IntentCreateVenue:
		if len(fields) != 2 || fields[0] != KeywordCreate {
			return nil, arcade.ErrMalformedCommand
		}
		return CreateVenue{Name: fields[1]}, nil
	case IntentAddAlias:
		if len(fields) != 3 || fields[0] != KeywordAddAlias {
			return nil, arcade.ErrMalformedCommand
		}
		return AddAlias{Venue: fields[1], Alias: fields[2]}, nil
	case IntentRemoveAlias:
		if len(fields) != 3 || fields[0] != KeywordRemoveAlias {
			return nil, arcade.ErrMalformedCommand
		}
		return RemoveAlias{Venue: fields[1], Alias: fields[2]}, nil
	case IntentQueryCount:
		target := queryTarget(text)
		if target == "" {
			return nil, arcade.ErrMalformedCommand
		}
		return QueryCount{Alias: target}, nil
	case IntentReportCount:
		rest, ok := strings.CutPrefix(strings.TrimSpace(text), KeywordReport)
		if !ok {
			return nil, arcade.ErrMalformedCommand
		}
		rest = strings.TrimSpace(rest)
		rest = strings.TrimSpace(strings.TrimSuffix(rest, CountSuffix))
		if rest == "" {
			return nil, arcade.ErrMalformedCommand
		}
		return ReportCount{Payload: rest}, nil
	case IntentScheduledReset:
		return ScheduledReset{}, nil
	default:
		return nil, nil
	}
}
