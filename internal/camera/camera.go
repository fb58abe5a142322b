package camera

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gardenia/internal/history"
	"gardenia/internal/store"
)

// Served when the camera endpoint is unreachable so a capture request always
// produces a picture.
//
//go:embed placeholder.png
var placeholder []byte

const defaultMaxPictures = 100

// Camera captures stills from the configured camera endpoint into a local
// directory, capped at a configurable number of pictures.
type Camera struct {
	store   store.KV
	history *history.History
	http    *http.Client
	dir     string
	now     func() time.Time
}

// New creates a camera bound to a picture directory.
func New(kv store.KV, hist *history.History, dir string) *Camera {
	return &Camera{
		store:   kv,
		history: hist,
		http:    &http.Client{Timeout: 30 * time.Second},
		dir:     dir,
		now:     time.Now,
	}
}

// Capture grabs one still and stores it under a timestamped name, returning
// the name. An unreachable camera yields the placeholder image instead of an
// error; automation must not stall on a flaky camera link.
func (c *Camera) Capture(ctx context.Context) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", err
	}
	data := c.grab(ctx)
	name := c.now().UTC().Format("2006-01-02T15-04-05") + ".png"
	if err := os.WriteFile(filepath.Join(c.dir, name), data, 0o644); err != nil {
		return "", err
	}
	if err := c.Prune(ctx); err != nil {
		log.Printf("CAMERA: prune failed: %v", err)
	}
	return name, nil
}

func (c *Camera) grab(ctx context.Context) []byte {
	var baseURL string
	if _, err := c.store.Get(ctx, []string{"settings", "camera", "url"}, &baseURL); err != nil || baseURL == "" {
		log.Println("CAMERA: no camera endpoint configured, using placeholder")
		return placeholder
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/capture", nil)
	if err != nil {
		return placeholder
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("CAMERA: capture failed: %v", err)
		return placeholder
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("CAMERA: capture failed: status %d", resp.StatusCode)
		return placeholder
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		log.Printf("CAMERA: capture read failed: %v", err)
		return placeholder
	}
	return data
}

// List returns stored picture names, newest first.
func (c *Camera) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".png") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Path resolves a picture name to its on-disk path, rejecting anything that
// could escape the picture directory.
func (c *Camera) Path(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".png") {
		return "", fmt.Errorf("bad picture name %q", name)
	}
	path := filepath.Join(c.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// Delete removes one picture.
func (c *Camera) Delete(name string) error {
	path, err := c.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Prune deletes the oldest pictures beyond the configured cap.
func (c *Camera) Prune(ctx context.Context) error {
	limit := defaultMaxPictures
	var configured int
	if found, err := c.store.Get(ctx, []string{"settings", "camera", "max_pictures"}, &configured); err != nil {
		return err
	} else if found && configured > 0 {
		limit = configured
	}
	names, err := c.List()
	if err != nil {
		return err
	}
	for _, name := range names[min(limit, len(names)):] {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			return err
		}
		log.Printf("CAMERA: pruned picture %s", name)
	}
	return nil
}
