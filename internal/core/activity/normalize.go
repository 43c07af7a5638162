package activity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind is the base activity type, i.e. the wire type tag without its
// "_activity" suffix.
type Kind string

// Kinds with a dedicated rendering. Everything else renders generically.
const (
	KindSignIn   Kind = "sign_in"
	KindSignOut  Kind = "sign_out"
	KindMeal     Kind = "meal"
	KindNap      Kind = "nap"
	KindBathroom Kind = "bathroom"
	KindUnknown  Kind = "unknown"
)

// kindOf derives the base kind of a record.
func kindOf(r raw) Kind {
	tag := r.ActivityType.or(string(KindUnknown))
	return Kind(strings.TrimSuffix(tag, "_activity"))
}

// Detail is the kind-specific part of an activity. Each variant overrides the
// default title and details derived from the kind and comment.
type Detail interface {
	apply(rec *Record)
}

// Signed is a sign in or sign out by a named adult.
type Signed struct {
	Out bool
	By  string
}

func (d Signed) apply(rec *Record) {
	if d.Out {
		rec.Title = "Signed Out"
	} else {
		rec.Title = "Signed In"
	}
	rec.Details = "By " + d.By
}

// Meal is a meal with a type, description and eaten quantity.
type Meal struct {
	Type     string
	Desc     string
	Quantity string
}

func (d Meal) apply(rec *Record) {
	rec.Title = "Meal: " + d.Type
	rec.Details = fmt.Sprintf("%s (%s)", d.Desc, d.Quantity)
}

// Nap is a nap with a known start time.
type Nap struct {
	Start time.Time
}

func (d Nap) apply(rec *Record) {
	rec.Title = "Nap Started at " + d.Start.Format("3:04 PM")
}

// Bathroom is a diaper or potty check.
type Bathroom struct {
	SubType string
}

func (d Bathroom) apply(rec *Record) {
	rec.Title = "Diaper: " + d.SubType
}

// Generic keeps the default title and details.
type Generic struct{}

func (Generic) apply(*Record) {}

type mealPayload struct {
	Type     optional `json:"type"`
	Desc     Text     `json:"desc"`
	Quantity Text     `json:"quantity"`
}

type napPayload struct {
	StartTime Text `json:"start_time"`
}

type bathroomPayload struct {
	SubType optional `json:"sub_type"`
}

// detailFor decodes the kind-specific variant of r. An error means the
// record is malformed and must be dropped.
func detailFor(kind Kind, r raw) (Detail, error) {
	switch kind {
	case KindSignIn, KindSignOut:
		by, err := signedBy(kind, r.Activiable)
		if err != nil {
			return nil, err
		}
		return Signed{Out: kind == KindSignOut, By: by}, nil

	case KindMeal:
		var p mealPayload
		ok, err := r.payload(&p)
		if err != nil || !ok {
			return Generic{}, err
		}
		return Meal{Type: p.Type.or("Meal"), Desc: string(p.Desc), Quantity: string(p.Quantity)}, nil

	case KindNap:
		var p napPayload
		ok, err := r.payload(&p)
		if err != nil || !ok || p.StartTime == "" {
			return Generic{}, err
		}
		start, err := parseTime(string(p.StartTime))
		if err != nil {
			return nil, err
		}
		return Nap{Start: start}, nil

	case KindBathroom:
		var p bathroomPayload
		ok, err := r.payload(&p)
		if err != nil || !ok {
			return Generic{}, err
		}
		return Bathroom{SubType: p.SubType.or("check")}, nil

	default:
		return Generic{}, nil
	}
}

// signedBy looks up the adult who signed the kid in or out. Only the actor
// keys are decoded; the rest of the activiable object is ignored.
func signedBy(kind Kind, activiable json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	ok, err := decodeObject(activiable, &fields)
	if err != nil {
		return "", err
	}
	if !ok {
		return "Unknown", nil
	}
	short := strings.TrimPrefix(string(kind), "sign_")
	for _, key := range []string{"signed_" + string(kind) + "_by", "signed_" + short + "_by"} {
		msg, found := fields[key]
		if !found {
			continue
		}
		var v optional
		if err := v.UnmarshalJSON(msg); err != nil {
			return "", fmt.Errorf("activity: %s: %w", key, err)
		}
		if v.Set {
			return string(v.Value), nil
		}
	}
	return "Unknown", nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseTime parses an ISO-8601 timestamp, keeping the wall clock of any
// offset it carries.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("activity: unrecognized timestamp %q", s)
}

type decoded struct {
	raw raw
	src json.RawMessage
}

// Normalize converts raw feed entries into records, newest first. Entries
// that cannot be normalized are logged and skipped, so the result never
// holds more records than the input.
func Normalize(items []json.RawMessage, log *slog.Logger) []Record {
	entries := make([]decoded, 0, len(items))
	for _, item := range items {
		var r raw
		if err := json.Unmarshal(item, &r); err != nil {
			log.Warn("could not parse activity record", "record", string(item), "error", err)
			continue
		}
		entries = append(entries, decoded{raw: r, src: item})
	}

	// ISO-8601 timestamps from the feed are fixed width, so string order is
	// time order. Missing timestamps are empty and sort last.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].raw.ActivityTime > entries[j].raw.ActivityTime
	})

	title := cases.Title(language.Und)
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		kind := kindOf(e.raw)
		detail, err := detailFor(kind, e.raw)
		if err != nil {
			log.Warn("could not parse activity record", "id", string(e.raw.ID), "record", string(e.src), "error", err)
			continue
		}

		rec := Record{
			ID:        string(e.raw.ID),
			Timestamp: string(e.raw.ActivityTime),
			Title:     title.String(strings.ReplaceAll(string(kind), "_", " ")),
			Details:   string(e.raw.Comment),
			PhotoURL:  string(e.raw.PhotoURL),
			Staff:     string(e.raw.Staff),
		}
		detail.apply(&rec)
		rec.Title = strings.TrimSpace(rec.Title)
		rec.Details = strings.TrimSpace(rec.Details)
		out = append(out, rec)
	}
	return out
}
