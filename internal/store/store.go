package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

// ErrPersistence wraps every read, write or decode failure of a backend.
var ErrPersistence = errors.New("persistence error")

// VenueDoc is the persisted form of one venue. Counts and times stay text on disk.
type VenueDoc struct {
	Aliases            []string `json:"aliases"`
	CurrentPlayerCount Count    `json:"current_player_count"`
	LastReportTime     string   `json:"last_report_time"`
	LastReporter       string   `json:"last_reporter"`
}

// Count is a player count kept as text. Hand-edited documents may carry it
// as a JSON number, which decodes to its decimal text.
type Count string

func (c *Count) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Count(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// not a count; the registry reads it as 0
		*c = Count(b)
		return nil
	}
	*c = Count(n.String())
	return nil
}

// Document maps canonical venue name to its record.
type Document map[string]VenueDoc

type RegistryStore interface {
	LoadRegistry(ctx context.Context) (Document, error)
	SaveRegistry(ctx context.Context, doc Document) error
}

type CursorStore interface {
	LoadCursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, lastMessageID int64) error
}

// Backend stores both the registry document and the dedup cursor.
type Backend interface {
	RegistryStore
	CursorStore
	Close() error
}

// DecodeDocument parses a registry document. Comments and trailing commas are
// tolerated so that hand-edited files still load.
func DecodeDocument(raw []byte) (Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(jsonc.ToJSON(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: decode registry: %v", ErrPersistence, err)
	}
	if doc == nil {
		doc = Document{}
	}
	for name, v := range doc {
		if v.Aliases == nil {
			v.Aliases = []string{}
			doc[name] = v
		}
	}
	return doc, nil
}

// EncodeDocument renders the document as indented JSON without HTML escaping.
func EncodeDocument(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	normalized := make(Document, len(doc))
	for name, v := range doc {
		if v.Aliases == nil {
			v.Aliases = []string{}
		}
		normalized[name] = v
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("%w: encode registry: %v", ErrPersistence, err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy so callers can mutate without aliasing backend state.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		v.Aliases = append([]string{}, v.Aliases...)
		out[k] = v
	}
	return out
}

// Options selects and configures a backend.
type Options struct {
	Backend        string // file | redis | sqlite | postgres
	DataFile       string
	CursorFile     string
	RedisURL       string
	RedisKeyPrefix string
	SQLitePath     string
	DatabaseURL    string
}

// Open builds the configured backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "file":
		return NewFileStore(opts.DataFile, opts.CursorFile), nil
	case "redis":
		return OpenRedis(ctx, opts.RedisURL, opts.RedisKeyPrefix)
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", opts.Backend)
	}
}
