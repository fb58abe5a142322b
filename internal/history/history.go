package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gardenia/internal/models"
	"gardenia/internal/store"
)

// Entry is one audit record. Entries with Details["public"] == true are
// visible to unauthenticated readers when history visibility is public.
type Entry struct {
	User    string         `json:"user,omitempty"`
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
	At      string         `json:"at"`
	T       int64          `json:"t"`
}

// History is the indexed audit log. Entries are stored under an
// ever-increasing index so paged reads can scan key ranges.
type History struct {
	store store.KV
	now   func() time.Time
}

// New creates a history log over the given store.
func New(kv store.KV) *History {
	return &History{store: kv, now: time.Now}
}

// Push appends an entry. Failures are logged and swallowed: the audit trail
// must never fail the operation it describes.
func (h *History) Push(ctx context.Context, user, action string, details map[string]any) {
	var index int64
	if _, err := h.store.Get(ctx, []string{"history", "index"}, &index); err != nil {
		log.Printf("HISTORY: failed to read index: %v", err)
		return
	}
	if err := h.store.Set(ctx, []string{"history", "index"}, index+1); err != nil {
		log.Printf("HISTORY: failed to advance index: %v", err)
		return
	}
	now := h.now()
	entry := Entry{User: user, Action: action, Details: details, At: models.Stamp(now), T: now.UnixMilli()}
	key := []string{"history", "entries", fmt.Sprintf("%016d", index)}
	if err := h.store.Set(ctx, key, entry); err != nil {
		log.Printf("HISTORY: failed to write entry: %v", err)
	}
}

// UpdateSetting records a settings change, skipping no-op writes.
func (h *History) UpdateSetting(ctx context.Context, user string, path []string, to any) {
	var from any
	if _, err := h.store.Get(ctx, path, &from); err != nil {
		log.Printf("HISTORY: failed to read %v: %v", path, err)
	}
	if fmt.Sprint(from) == fmt.Sprint(to) {
		return
	}
	name := ""
	for i, p := range path {
		if i > 0 {
			name += "."
		}
		name += p
	}
	h.Push(ctx, user, "update_settings", map[string]any{"name": name, "from": from, "to": to})
}

// Page reads one page of entries, newest first. When publicOnly is set only
// publicly tagged entries are returned and user-issued rule names are
// anonymized. When actionsOnly is set, plain log entries are filtered out.
func (h *History) Page(ctx context.Context, page, limit int, publicOnly, actionsOnly bool) ([]Entry, error) {
	var last int64
	if _, err := h.store.Get(ctx, []string{"history", "index"}, &last); err != nil {
		return nil, err
	}
	entries := []Entry{}
	for {
		lo := last - int64(page+1)*int64(limit)
		hi := last - int64(page)*int64(limit)
		if hi <= 0 {
			break
		}
		if lo < 0 {
			lo = 0
		}
		raw, err := h.store.Range(ctx,
			[]string{"history", "entries", fmt.Sprintf("%016d", lo)},
			[]string{"history", "entries", fmt.Sprintf("%016d", hi)},
			store.RangeOptions{Reverse: true})
		if err != nil {
			return nil, err
		}
		for _, e := range raw {
			var entry Entry
			if err := json.Unmarshal(e.Value, &entry); err != nil {
				continue
			}
			if publicOnly {
				isPublic, _ := entry.Details["public"].(bool)
				if !isPublic {
					continue
				}
			}
			if actionsOnly && entry.Action != "action" && entry.Action != "action_picture" {
				continue
			}
			entries = append(entries, entry)
		}
		page++
		if lo == 0 || len(entries) >= limit {
			break
		}
	}
	if publicOnly {
		for i := range entries {
			if rule, ok := entries[i].Details["rule"].(string); ok && len(rule) > 0 && rule[0] == '@' {
				entries[i].Details["rule"] = "@user"
			}
		}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
