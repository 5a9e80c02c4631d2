// Package paginate implements the three retrieval policies over an ordered
// match set: offset slicing, stateless cursors (search_after), and
// server-held scroll contexts pinned to a snapshot.
package paginate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/search/evaluator"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
)

// Page is one batch of results plus the state needed to fetch the next one.
type Page struct {
	Hits     evaluator.MatchSet `json:"hits"`
	Total    int                `json:"total"`
	Cursor   string             `json:"cursor,omitempty"`
	ScrollID string             `json:"scroll_id,omitempty"`
}

// Offset returns the slice [from, from+size) of the ordered match set. The
// set is recomputed on every call, so concurrent mutations may shift page
// boundaries; offset mode is documented as not snapshot-isolated.
func Offset(matches evaluator.MatchSet, from, size int) Page {
	page := Page{Total: len(matches), Hits: evaluator.MatchSet{}}
	if from < 0 {
		from = 0
	}
	if from >= len(matches) || size <= 0 {
		return page
	}
	end := from + size
	if end > len(matches) {
		end = len(matches)
	}
	page.Hits = matches[from:end]
	return page
}

// cursorPayload is the decoded form of an opaque cursor: the sort spec it
// was minted under and the last-seen sort-key tuple (identifier last).
type cursorPayload struct {
	Sort []evaluator.SortField `json:"sort"`
	Keys []any                 `json:"keys"`
}

// EncodeCursor mints the opaque cursor pointing just past the given document
// under the sort spec.
func EncodeCursor(snap *index.Snapshot, id string, sort []evaluator.SortField) string {
	payload := cursorPayload{Sort: sort, Keys: evaluator.KeyValues(snap, id, sort)}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(raw string) (*cursorPayload, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("undecodable cursor: %w", err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("undecodable cursor: %w", err)
	}
	return &payload, nil
}

// Cursor returns the next size matches whose sort keys strictly follow the
// cursor. The cursor is only valid under the exact sort specification it was
// minted with; the identifier tie-break key keeps the tuple injective.
func Cursor(snap *index.Snapshot, matches evaluator.MatchSet, after string, size int, sort []evaluator.SortField) (Page, error) {
	page := Page{Total: len(matches), Hits: evaluator.MatchSet{}}
	payload, err := decodeCursor(after)
	if err != nil {
		return page, apperrors.Newf(apperrors.ErrInvalidInput, 400, "%v", err)
	}
	if !sortSpecsEqual(payload.Sort, sort) {
		return page, apperrors.New(apperrors.ErrInvalidInput, 400,
			"cursor was created under a different sort specification")
	}
	for _, m := range matches {
		cmp, err := evaluator.CompareToKey(snap, m.ID, payload.Keys, sort)
		if err != nil {
			return page, apperrors.Newf(apperrors.ErrInvalidInput, 400, "%v", err)
		}
		if cmp <= 0 {
			continue
		}
		page.Hits = append(page.Hits, m)
		if len(page.Hits) == size {
			break
		}
	}
	if len(page.Hits) > 0 {
		last := page.Hits[len(page.Hits)-1]
		page.Cursor = EncodeCursor(snap, last.ID, sort)
	}
	return page, nil
}

// FirstCursorPage starts cursor-mode pagination from the top of the ordered
// set, minting the cursor for the following page.
func FirstCursorPage(snap *index.Snapshot, matches evaluator.MatchSet, size int, sort []evaluator.SortField) Page {
	page := Offset(matches, 0, size)
	if len(page.Hits) > 0 {
		last := page.Hits[len(page.Hits)-1]
		page.Cursor = EncodeCursor(snap, last.ID, sort)
	}
	return page
}

func sortSpecsEqual(a, b []evaluator.SortField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
