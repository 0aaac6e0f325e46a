// Package query implements generic filtering, sorting and pagination over
// scanned record slices. Both the category listing and the prediction
// history are served through it.
package query

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Field exposes one queryable attribute of T. Exactly one accessor should
// be set; it fixes the field's type for filtering and sorting.
type Field[T any] struct {
	String func(T) string
	Number func(T) float64
	Time   func(T) time.Time
}

// Schema binds a record type to its id, default sort field and the fixed
// allow-list of queryable fields.
type Schema[T any] struct {
	ID          func(T) string
	DefaultSort string
	Fields      map[string]Field[T]
}

// Filter restricts records on one field. Nil/empty bounds are absent.
// Time bounds arrive as RFC 3339 strings; an unparsable bound is treated
// as absent, not as an error.
type Filter struct {
	Field string
	In    []string
	Min   *float64
	Max   *float64
	From  string
	To    string
}

// Params selects, orders and pages a listing. When Cursor is set it takes
// precedence over Page/Offset; a stale cursor silently degrades to offset
// mode. Page is 1-based; Offset is honored only when Page is unset, to
// serve raw limit/offset listing contracts.
type Params struct {
	Filters []Filter
	SortBy  string
	Sort    Direction
	Page    int
	Offset  int
	Limit   int
	Cursor  string
}

// Page is one result window plus pagination metadata. Count is the number
// of items actually returned.
type Page[T any] struct {
	Items      []T    `json:"items"`
	Count      int    `json:"count"`
	Total      int    `json:"total"`
	TotalPages int    `json:"totalPages"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	NextCursor string `json:"nextCursor,omitempty"`
	PrevCursor string `json:"prevCursor,omitempty"`
}

// List filters, sorts and pages items according to params. Sorting is a
// total order: ties on the primary key are broken by id ascending, so that
// cursor pages neither skip nor repeat records.
func List[T any](items []T, schema Schema[T], p Params) Page[T] {
	limit := clampLimit(p.Limit)
	field, dir := resolveSort(schema, p.SortBy, p.Sort)

	filtered := applyFilters(items, schema, p.Filters)
	sortRecords(filtered, schema, field, dir)

	total := len(filtered)
	totalPages := (total + limit - 1) / limit

	start, page := startOffset(filtered, schema, p, limit)
	end := min(start+limit, total)
	if start > total {
		start = total
		end = total
	}
	window := filtered[start:end]

	out := Page[T]{
		Items:      window,
		Count:      len(window),
		Total:      total,
		TotalPages: totalPages,
		Page:       page,
		Limit:      limit,
	}
	if len(window) == limit && end < total {
		last := window[len(window)-1]
		out.NextCursor = encodeCursor(sortKeyString(field, last), schema.ID(last))
	}
	if start > 0 {
		out.PrevCursor = prevCursor(filtered, schema, field, start, limit)
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// resolveSort enforces the sort allow-list: an unknown field falls back to
// the schema default and an unknown direction to descending, mirroring the
// permissive listing behavior of the original API.
func resolveSort[T any](schema Schema[T], sortBy string, dir Direction) (Field[T], Direction) {
	field, ok := schema.Fields[strings.TrimSpace(sortBy)]
	if !ok {
		field = schema.Fields[schema.DefaultSort]
	}
	switch dir {
	case Asc, Desc:
	default:
		dir = Desc
	}
	return field, dir
}

func applyFilters[T any](items []T, schema Schema[T], filters []Filter) []T {
	if len(filters) == 0 {
		return slices.Clone(items)
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if matchesAll(item, schema, filters) {
			out = append(out, item)
		}
	}
	return out
}

func matchesAll[T any](item T, schema Schema[T], filters []Filter) bool {
	for _, f := range filters {
		field, ok := schema.Fields[f.Field]
		if !ok {
			continue
		}
		if !matches(item, field, f) {
			return false
		}
	}
	return true
}

func matches[T any](item T, field Field[T], f Filter) bool {
	switch {
	case field.String != nil:
		if len(f.In) == 0 {
			return true
		}
		return slices.Contains(f.In, field.String(item))
	case field.Number != nil:
		v := field.Number(item)
		if f.Min != nil && v < *f.Min {
			return false
		}
		if f.Max != nil && v > *f.Max {
			return false
		}
		return true
	case field.Time != nil:
		v := field.Time(item)
		if from, ok := parseTimeBound(f.From); ok && v.Before(from) {
			return false
		}
		if to, ok := parseTimeBound(f.To); ok && v.After(to) {
			return false
		}
		return true
	default:
		return true
	}
}

func parseTimeBound(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sortRecords[T any](items []T, schema Schema[T], field Field[T], dir Direction) {
	slices.SortStableFunc(items, func(a, b T) int {
		c := compareField(a, b, field)
		if dir == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		// Tie-break on id ascending regardless of direction.
		return strings.Compare(schema.ID(a), schema.ID(b))
	})
}

func compareField[T any](a, b T, field Field[T]) int {
	switch {
	case field.String != nil:
		return strings.Compare(field.String(a), field.String(b))
	case field.Number != nil:
		av, bv := field.Number(a), field.Number(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case field.Time != nil:
		return field.Time(a).Compare(field.Time(b))
	default:
		return 0
	}
}

// startOffset resolves the page start. Cursor mode locates the cursor's id
// in the filtered+sorted sequence and resumes strictly after it; an id
// that is no longer present degrades to offset mode.
func startOffset[T any](items []T, schema Schema[T], p Params, limit int) (int, int) {
	if cur, ok := decodeCursor(p.Cursor); ok {
		for i, item := range items {
			if schema.ID(item) == cur.ID {
				start := i + 1
				return start, start/limit + 1
			}
		}
	}
	page := p.Page
	if page < 1 {
		if p.Offset > 0 {
			return p.Offset, p.Offset/limit + 1
		}
		page = 1
	}
	return (page - 1) * limit, page
}

// prevCursor resumes one page back: the cursor of the record just before
// the previous page, or a sentinel empty cursor that lands on page one.
func prevCursor[T any](items []T, schema Schema[T], field Field[T], start, limit int) string {
	prevStart := start - limit
	if prevStart < 1 {
		return encodeCursor("", "")
	}
	anchor := items[prevStart-1]
	return encodeCursor(sortKeyString(field, anchor), schema.ID(anchor))
}

func sortKeyString[T any](field Field[T], item T) string {
	switch {
	case field.String != nil:
		return field.String(item)
	case field.Number != nil:
		return strconv.FormatFloat(field.Number(item), 'f', -1, 64)
	case field.Time != nil:
		return field.Time(item).UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}
