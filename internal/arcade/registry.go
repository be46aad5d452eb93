package arcade

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/park285/arcade-count-bot/internal/store"
	"go.uber.org/zap"
)

// TimeLayout is how report times are written to storage and shown in replies.
const TimeLayout = "2006-01-02 15:04:05"

// Venue is one arcade. The canonical name is the registry key and is not
// required to appear in Aliases.
type Venue struct {
	Name         string
	Aliases      []string
	PlayerCount  int
	LastReportAt time.Time // zero when never reported or since the last reset
	LastReporter string
}

// Reported reports whether the venue carries a live count.
func (v Venue) Reported() bool { return v.PlayerCount != 0 }

func (v Venue) clone() Venue {
	v.Aliases = append([]string{}, v.Aliases...)
	return v
}

// names returns the canonical name followed by the aliases.
func (v *Venue) names() []string {
	out := make([]string, 0, len(v.Aliases)+1)
	out = append(out, v.Name)
	return append(out, v.Aliases...)
}

// Registry owns every venue and its round trip through a store.
type Registry struct {
	mu        sync.RWMutex
	venues    map[string]*Venue
	store     store.RegistryStore
	logger    *zap.Logger
	loc       *time.Location
	overwrite bool
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithLocation sets the zone used to read and write report times.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithOverwrite lets Create replace an existing venue instead of failing.
func WithOverwrite(allow bool) Option {
	return func(r *Registry) { r.overwrite = allow }
}

func NewRegistry(st store.RegistryStore, opts ...Option) *Registry {
	r := &Registry{
		venues: make(map[string]*Venue),
		store:  st,
		logger: zap.NewNop(),
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory registry with the stored one. Any failure leaves
// an empty registry; the error is logged and returned for the caller's information.
func (r *Registry) Load(ctx context.Context) error {
	doc, err := r.store.LoadRegistry(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.venues = make(map[string]*Venue)
		r.logger.Warn("registry_load_failed", zap.Error(err))
		return err
	}
	venues := make(map[string]*Venue, len(doc))
	for name, vd := range doc {
		v := r.fromDoc(name, vd)
		venues[name] = &v
	}
	r.venues = venues
	r.logger.Info("registry_loaded", zap.Int("venues", len(venues)))
	return nil
}

// Save writes the full registry. Failures are logged; memory stays authoritative.
func (r *Registry) Save(ctx context.Context) error {
	doc := r.Snapshot()
	if err := r.store.SaveRegistry(ctx, doc); err != nil {
		r.logger.Error("registry_save_failed", zap.Int("venues", len(doc)), zap.Error(err))
		return err
	}
	r.logger.Debug("registry_saved", zap.Int("venues", len(doc)))
	return nil
}

// Snapshot renders the registry in its persisted form.
func (r *Registry) Snapshot() store.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := make(store.Document, len(r.venues))
	for name, v := range r.venues {
		doc[name] = r.toDoc(v)
	}
	return doc
}

// Create adds a venue whose only alias is its own name.
func (r *Registry) Create(name string) error {
	name = strings.TrimSpace(name)
	if !validToken(name) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.venues[name]; ok && !r.overwrite {
		return ErrVenueExists
	}
	r.venues[name] = &Venue{Name: name, Aliases: []string{name}}
	return nil
}

// AddAlias appends alias to the venue; duplicates are kept.
func (r *Registry) AddAlias(name, alias string) error {
	alias = strings.TrimSpace(alias)
	if !validToken(alias) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.venues[strings.TrimSpace(name)]
	if !ok {
		return ErrVenueNotFound
	}
	v.Aliases = append(v.Aliases, alias)
	return nil
}

// RemoveAlias drops the first occurrence of alias.
func (r *Registry) RemoveAlias(name, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.venues[strings.TrimSpace(name)]
	if !ok {
		return ErrVenueNotFound
	}
	alias = strings.TrimSpace(alias)
	for i, a := range v.Aliases {
		if a == alias {
			v.Aliases = append(v.Aliases[:i], v.Aliases[i+1:]...)
			return nil
		}
	}
	return ErrAliasNotFound
}

// Report records a count for the venue stored under name.
func (r *Registry) Report(name string, count int, at time.Time, reporter string) error {
	if count < 0 {
		return ErrInvalidCount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.venues[name]
	if !ok {
		return ErrVenueNotFound
	}
	v.PlayerCount = count
	v.LastReportAt = at.In(r.loc).Truncate(time.Second)
	v.LastReporter = strings.TrimSpace(reporter)
	return nil
}

// ResetAll clears every count, time and reporter; venues and aliases stay.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.venues {
		v.PlayerCount = 0
		v.LastReportAt = time.Time{}
		v.LastReporter = ""
	}
}

// Resolve finds the venue whose canonical name or one of whose aliases equals
// text exactly. Venues are scanned in name order so the result is stable.
func (r *Registry) Resolve(text string) (Venue, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Venue{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.sortedNamesLocked() {
		v := r.venues[name]
		for _, n := range v.names() {
			if n == text {
				return v.clone(), true
			}
		}
	}
	return Venue{}, false
}

// Knows reports whether text names a venue.
func (r *Registry) Knows(text string) bool {
	_, ok := r.Resolve(text)
	return ok
}

// ReportMatch is a venue whose alias occurs inside a report payload.
type ReportMatch struct {
	Venue string
	Alias string // the longest matching alias of that venue
}

// MatchReport returns every venue that has a name or alias contained in payload,
// in venue name order.
func (r *Registry) MatchReport(payload string) []ReportMatch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ReportMatch
	for _, name := range r.sortedNamesLocked() {
		best := ""
		for _, n := range r.venues[name].names() {
			if n != "" && strings.Contains(payload, n) && len(n) > len(best) {
				best = n
			}
		}
		if best != "" {
			out = append(out, ReportMatch{Venue: name, Alias: best})
		}
	}
	return out
}

func (r *Registry) Get(name string) (Venue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[name]
	if !ok {
		return Venue{}, false
	}
	return v.clone(), true
}

// Venues lists all venues in name order.
func (r *Registry) Venues() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Venue, 0, len(r.venues))
	for _, name := range r.sortedNamesLocked() {
		out = append(out, r.venues[name].clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.venues)
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) toDoc(v *Venue) store.VenueDoc {
	vd := store.VenueDoc{
		Aliases:            append([]string{}, v.Aliases...),
		CurrentPlayerCount: store.Count(strconv.Itoa(v.PlayerCount)),
		LastReporter:       v.LastReporter,
	}
	if !v.LastReportAt.IsZero() {
		vd.LastReportTime = v.LastReportAt.In(r.loc).Format(TimeLayout)
	}
	return vd
}

// fromDoc parses the text fields; unusable counts read as 0 and unusable times as never.
func (r *Registry) fromDoc(name string, vd store.VenueDoc) Venue {
	v := Venue{
		Name:         name,
		Aliases:      append([]string{}, vd.Aliases...),
		LastReporter: vd.LastReporter,
	}
	if s := strings.TrimSpace(string(vd.CurrentPlayerCount)); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			r.logger.Warn("registry_count_coerced", zap.String("venue", name), zap.String("stored", string(vd.CurrentPlayerCount)))
		} else {
			v.PlayerCount = n
		}
	}
	if s := strings.TrimSpace(vd.LastReportTime); s != "" {
		t, err := time.ParseInLocation(TimeLayout, s, r.loc)
		if err != nil {
			r.logger.Warn("registry_time_dropped", zap.String("venue", name), zap.String("stored", vd.LastReportTime))
		} else {
			v.LastReportAt = t
		}
	}
	return v
}

// validToken accepts a single non-empty word.
func validToken(s string) bool {
	return s != "" && !strings.ContainsFunc(s, unicode.IsSpace)
}
