package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/arcade-count-bot/internal/arcade"
	"go.uber.org/zap"
)

// Renderer produces reply text for a catalog key.
type Renderer interface {
	Render(key string, data any) (string, error)
}

// Request is one chat message addressed to the bot.
type Request struct {
	Text    string
	Sender  string
	GroupID string
}

// Result is what handling a request produced.
type Result struct {
	Intent  Intent
	Replies []string
	Mutated bool
}

type Handler struct {
	registry *arcade.Registry
	texts    Renderer
	now      func() time.Time
	loc      *time.Location
	logger   *zap.Logger
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLocation sets the zone in which midnight is judged.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(reg *arcade.Registry, texts Renderer, opts ...Option) *Handler {
	h := &Handler{
		registry: reg,
		texts:    texts,
		now:      time.Now,
		loc:      time.Local,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle classifies and executes one message. User mistakes become replies;
// the returned error is reserved for failures the user cannot fix.
func (h *Handler) Handle(ctx context.Context, req Request) (Result, error) {
	now := h.now().In(h.loc)
	intent := Classify(req.Text, now, h.registry)
	res := Result{Intent: intent}
	if intent == IntentNone {
		return res, nil
	}

	cmd, err := Parse(intent, req.Text)
	if err != nil {
		return h.reply(res, "reply.malformed", nil)
	}

	switch c := cmd.(type) {
	case CreateVenue:
		return h.create(res, c)
	case AddAlias:
		return h.addAlias(res, c)
	case RemoveAlias:
		return h.removeAlias(res, c)
	case QueryCount:
		return h.query(res, c)
	case ReportCount:
		return h.report(res, c, now, req.Sender)
	case ScheduledReset:
		h.registry.ResetAll()
		res.Mutated = true
		h.logger.Info("scheduled_reset", zap.Int("venues", h.registry.Len()))
		return res, nil
	default:
		return res, fmt.Errorf("no handler for intent %s", intent)
	}
}

func (h *Handler) create(res Result, c CreateVenue) (Result, error) {
	err := h.registry.Create(c.Name)
	switch {
	case err == nil:
		res.Mutated = true
		return h.reply(res, "reply.created", map[string]any{"Name": c.Name})
	case errors.Is(err, arcade.ErrVenueExists):
		return h.reply(res, "reply.exists", map[string]any{"Name": c.Name})
	case arcade.KindOf(err) == arcade.KindValidation:
		return h.reply(res, "reply.malformed", nil)
	default:
		return res, err
	}
}

func (h *Handler) addAlias(res Result, c AddAlias) (Result, error) {
	err := h.registry.AddAlias(c.Venue, c.Alias)
	switch {
	case err == nil:
		res.Mutated = true
		return h.reply(res, "reply.alias_added", map[string]any{"Name": c.Venue, "Alias": c.Alias})
	case errors.Is(err, arcade.ErrVenueNotFound):
		return h.reply(res, "reply.venue_missing", nil)
	case arcade.KindOf(err) == arcade.KindValidation:
		return h.reply(res, "reply.malformed", nil)
	default:
		return res, err
	}
}

func (h *Handler) removeAlias(res Result, c RemoveAlias) (Result, error) {
	err := h.registry.RemoveAlias(c.Venue, c.Alias)
	switch {
	case err == nil:
		res.Mutated = true
		return h.reply(res, "reply.alias_removed", nil)
	case errors.Is(err, arcade.ErrVenueNotFound):
		return h.reply(res, "reply.venue_missing", nil)
	case errors.Is(err, arcade.ErrAliasNotFound):
		return h.reply(res, "reply.alias_missing", nil)
	default:
		return res, err
	}
}

func (h *Handler) query(res Result, c QueryCount) (Result, error) {
	v, ok := h.registry.Resolve(c.Alias)
	if !ok {
		// the venue may have vanished between classify and now; stay silent
		return res, nil
	}
	if !v.Reported() {
		return h.reply(res, "reply.count_empty", map[string]any{"Alias": c.Alias})
	}
	last := ""
	if !v.LastReportAt.IsZero() {
		last = v.LastReportAt.In(h.loc).Format(arcade.TimeLayout)
	}
	return h.reply(res, "reply.count", map[string]any{
		"Alias":    c.Alias,
		"Count":    v.PlayerCount,
		"Time":     last,
		"Reporter": v.LastReporter,
	})
}

// report finds the single venue named inside the payload and reads the rest
// of the payload as the count.
func (h *Handler) report(res Result, c ReportCount, now time.Time, sender string) (Result, error) {
	matches := h.registry.MatchReport(c.Payload)
	switch len(matches) {
	case 0:
		return h.reply(res, "reply.report_missing", nil)
	case 1:
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Venue)
		}
		h.logger.Info("report_ambiguous", zap.String("payload", c.Payload), zap.Strings("venues", names))
		return h.reply(res, "reply.report_ambiguous", map[string]any{"Venues": names})
	}

	m := matches[0]
	count, err := parseCount(strings.Replace(c.Payload, m.Alias, "", 1))
	if err != nil {
		return h.reply(res, "reply.report_invalid_count", map[string]any{"Alias": m.Alias})
	}
	if err := h.registry.Report(m.Venue, count, now, sender); err != nil {
		if arcade.KindOf(err) == arcade.KindUnknown {
			return res, err
		}
		return h.reply(res, "reply.report_missing", nil)
	}
	res.Mutated = true
	return h.reply(res, "reply.reported", map[string]any{"Name": m.Venue, "Count": count})
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, arcade.ErrInvalidCount
	}
	return n, nil
}

func (h *Handler) reply(res Result, key string, data any) (Result, error) {
	text, err := h.texts.Render(key, data)
	if err != nil {
		return res, fmt.Errorf("render %s: %w", key, err)
	}
	res.Replies = append(res.Replies, text)
	return res, nil
}
