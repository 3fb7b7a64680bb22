// Package voices manages the local store of Piper voice models and
// downloads models from the upstream catalog. A voice is installed
// only when both its .onnx model and .onnx.json config are present.
package voices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCatalogURL serves the official Piper voice models.
const DefaultCatalogURL = "https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0"

const (
	extModel  = ".onnx"
	extConfig = ".onnx.json"

	downloadTimeout = 2 * time.Minute
	userAgent       = "EchoMind-Voice/1.0"
)

// ErrInvalidVoiceID marks a voice id that does not name a catalog
// entry. Handlers map it to a client error.
var ErrInvalidVoiceID = errors.New("invalid voice id")

// Voice is a parsed catalog voice id, e.g. en_US-amy-medium.
type Voice struct {
	ID      string
	Locale  string
	Speaker string
	Quality string
}

// ParseID splits a Piper voice id into locale, speaker and quality.
// Ids look like locale-speaker-quality where the locale carries an
// underscore (en_US) and the speaker may itself contain dashes
// (en_US-libritts_r-medium, en_US-song-and-dance-low).
func ParseID(id string) (Voice, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Voice{}, fmt.Errorf("%w: empty", ErrInvalidVoiceID)
	}
	if strings.ContainsAny(id, `/\`) {
		return Voice{}, fmt.Errorf("%w: %q", ErrInvalidVoiceID, id)
	}
	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return Voice{}, fmt.Errorf("%w: %q", ErrInvalidVoiceID, id)
	}
	v := Voice{
		ID:      id,
		Locale:  parts[0],
		Speaker: strings.Join(parts[1:len(parts)-1], "-"),
		Quality: parts[len(parts)-1],
	}
	if !strings.Contains(v.Locale, "_") || v.Speaker == "" {
		return Voice{}, fmt.Errorf("%w: %q", ErrInvalidVoiceID, id)
	}
	switch v.Quality {
	case "low", "medium", "high", "x_low":
	default:
		return Voice{}, fmt.Errorf("%w: unknown quality in %q", ErrInvalidVoiceID, id)
	}
	return v, nil
}

// assetPath is the catalog-relative location of one voice file, e.g.
// en/en_US/amy/medium/en_US-amy-medium.onnx.
func (v Voice) assetPath(ext string) string {
	lang := strings.ToLower(strings.SplitN(v.Locale, "_", 2)[0])
	return path.Join(lang, v.Locale, v.Speaker, v.Quality, v.ID+ext)
}

// Catalog is a local voice directory backed by a remote model catalog.
type Catalog struct {
	dir        string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithHTTPClient sets a custom HTTP client for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Catalog) { c.httpClient = client }
}

// New builds a catalog over dir. An empty baseURL selects the official
// catalog.
func New(dir, baseURL string, opts ...Option) *Catalog {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultCatalogURL
	}
	c := &Catalog{
		dir:        dir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the local voice directory.
func (c *Catalog) Dir() string { return c.dir }

// ModelPath returns the local .onnx path for a voice id.
func (c *Catalog) ModelPath(id string) string { return filepath.Join(c.dir, id+extModel) }

// ConfigPath returns the local .onnx.json path for a voice id.
func (c *Catalog) ConfigPath(id string) string { return filepath.Join(c.dir, id+extConfig) }

// IsInstalled reports whether both files of the voice are present.
func (c *Catalog) IsInstalled(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	if _, err := os.Stat(c.ModelPath(id)); err != nil {
		return false
	}
	if _, err := os.Stat(c.ConfigPath(id)); err != nil {
		return false
	}
	return true
}

// Installed lists the voice ids with both files present, sorted. A
// missing directory is an empty catalog, not an error.
func (c *Catalog) Installed() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read voices dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, extModel) || strings.HasSuffix(name, extConfig) {
			continue
		}
		id := strings.TrimSuffix(name, extModel)
		if c.IsInstalled(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Download fetches the model and config of the voice into the local
// directory. On any failure both files are removed so a voice is never
// half installed.
func (c *Catalog) Download(ctx context.Context, id string) error {
	v, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create voices dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.fetch(ctx, v.assetPath(extModel), c.ModelPath(v.ID)) })
	g.Go(func() error { return c.fetch(ctx, v.assetPath(extConfig), c.ConfigPath(v.ID)) })
	if err := g.Wait(); err != nil {
		os.Remove(c.ModelPath(v.ID))
		os.Remove(c.ConfigPath(v.ID))
		return fmt.Errorf("download %s: %w", v.ID, err)
	}
	return nil
}

func (c *Catalog) fetch(ctx context.Context, remote, local string) error {
	url := c.baseURL + "/" + remote
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
