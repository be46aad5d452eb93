package command

import (
	"strings"
	"time"
)

// Keywords recognised in chat text.
const (
	KeywordCreate      = "创建机厅"
	KeywordAddAlias    = "添加别名"
	KeywordRemoveAlias = "删除别名"
	KeywordQuery       = "几人"
	KeywordReport      = "update"
	CountSuffix        = "人"
)

// Intent is what a chat message asks the bot to do.
type Intent int

const (
	IntentNone Intent = iota
	IntentCreateVenue
	IntentAddAlias
	IntentRemoveAlias
	IntentQueryCount
	IntentReportCount
	IntentScheduledReset
)

func (i Intent) String() string {
	switch i {
	case IntentCreateVenue:
		return "create_venue"
	case IntentAddAlias:
		return "add_alias"
	case IntentRemoveAlias:
		return "remove_alias"
	case IntentQueryCount:
		return "query_count"
	case IntentReportCount:
		return "report_count"
	case IntentScheduledReset:
		return "scheduled_reset"
	default:
		return "none"
	}
}

// Resolver answers whether a text names a known venue.
type Resolver interface {
	Knows(text string) bool
}

// Classify picks exactly one intent by keyword containment, first match wins:
// create > add alias > remove alias > query > report > midnight reset > none.
// A query whose remaining text is not a known venue classifies as none.
func Classify(text string, now time.Time, venues Resolver) Intent {
	switch {
	case strings.Contains(text, KeywordCreate):
		return IntentCreateVenue
	case strings.Contains(text, KeywordAddAlias):
		return IntentAddAlias
	case strings.Contains(text, KeywordRemoveAlias):
		return IntentRemoveAlias
	case strings.Contains(text, KeywordQuery):
		if venues != nil && venues.Knows(queryTarget(text)) {
			return IntentQueryCount
		}
		return IntentNone
	case strings.Contains(text, KeywordReport):
		return IntentReportCount
	}
	if now.Hour() == 0 && now.Minute() == 0 {
		return IntentScheduledReset
	}
	return IntentNone
}

func queryTarget(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, KeywordQuery, ""))
}
