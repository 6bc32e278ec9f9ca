// Package pypi talks to PyPI's XML-RPC changelog, JSON and Simple APIs.
package pypi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/git-pkgs/wheelodex/client"
	"github.com/git-pkgs/wheelodex/internal/changelog"
)

const (
	DefaultURL = client.DefaultBaseURL

	simpleJSON = "application/vnd.pypi.simple.v1+json"
	xmlContent = "text/xml"
)

// Client is a PyPI API client. Transient failures are retried according to
// the underlying client's policy.
type Client struct {
	http *client.Client
	urls *client.URLs
	log  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used to report retries.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client for the PyPI instance at baseURL. If baseURL is empty
// pypi.org is used; if hc is nil client.DefaultClient() is used.
func New(baseURL string, hc *client.Client, opts ...Option) *Client {
	if hc == nil {
		hc = client.DefaultClient()
	}
	c := &Client{
		urls: client.NewURLs(baseURL),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Copy so the retry hook stays private to this client.
	local := *hc
	notify := local.Retry.Notify
	local.Retry.Notify = func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("wait", wait).Msg("retrying PyPI request")
		if notify != nil {
			notify(err, wait)
		}
	}
	c.http = &local
	return c
}

// URLs returns the endpoint builder.
func (c *Client) URLs() *client.URLs {
	return c.urls
}

// LastSerial returns the serial of the most recent changelog event.
func (c *Client) LastSerial(ctx context.Context) (int64, error) {
	v, err := c.call(ctx, "changelog_last_serial")
	if err != nil {
		return 0, err
	}
	serial, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("changelog_last_serial: unexpected result type %T", v)
	}
	return serial, nil
}

// EventsSince yields the changelog events after serial in feed order.
// Nothing is fetched until the sequence is iterated, and iterating again
// repeats the request. A failure is yielded once as the final element.
func (c *Client) EventsSince(ctx context.Context, serial int64) iter.Seq2[changelog.Event, error] {
	return func(yield func(changelog.Event, error) bool) {
		v, err := c.call(ctx, "changelog_since_serial", serial)
		if err != nil {
			yield(changelog.Event{}, err)
			return
		}
		entries, ok := v.([]any)
		if !ok {
			yield(changelog.Event{}, fmt.Errorf("changelog_since_serial: unexpected result type %T", v))
			return
		}
		for _, entry := range entries {
			fields, ok := entry.([]any)
			if !ok {
				yield(changelog.Event{}, fmt.Errorf("changelog_since_serial: unexpected entry type %T", entry))
				return
			}
			ev, err := changelog.Parse(fields)
			if err != nil {
				yield(changelog.Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

type simpleIndex struct {
	Projects []struct {
		Name string `json:"name"`
	} `json:"projects"`
}

// ProjectNames lists every project on the index using the Simple API.
func (c *Client) ProjectNames(ctx context.Context) ([]string, error) {
	var idx simpleIndex
	if err := c.http.GetJSONAccept(ctx, c.urls.SimpleIndex(), simpleJSON, &idx); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	names := make([]string, 0, len(idx.Projects))
	for _, p := range idx.Projects {
		names = append(names, p.Name)
	}
	return names, nil
}

type packageResponse struct {
	Info     infoBlock                `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type infoBlock struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Version string `json:"version"`
}

type releaseFile struct {
	Filename          string            `json:"filename"`
	Digests           map[string]string `json:"digests"`
	URL               string            `json:"url"`
	UploadTimeISO8601 string            `json:"upload_time_iso_8601"`
	Yanked            bool              `json:"yanked"`
	PackageType       string            `json:"packagetype"`
	PythonVersion     string            `json:"python_version"`
	RequiresPython    string            `json:"requires_python"`
	Size              int64             `json:"size"`
}

// ProjectSnapshot is the current state of a project according to the JSON API.
type ProjectSnapshot struct {
	Name     string
	Summary  string
	Version  string
	Releases map[string][]Asset
}

// Asset is one file of a release.
type Asset struct {
	Filename       string
	URL            string
	Size           int64
	MD5            string
	SHA256         string
	Uploaded       time.Time
	Yanked         bool
	PackageType    string
	PythonVersion  string
	RequiresPython string
}

// VersionStrings returns the release keys of the snapshot.
func (s *ProjectSnapshot) VersionStrings() []string {
	versions := make([]string, 0, len(s.Releases))
	for v := range s.Releases {
		versions = append(versions, v)
	}
	return versions
}

// Wheels returns the wheel assets of a release.
func (s *ProjectSnapshot) Wheels(version string) []Asset {
	var wheels []Asset
	for _, a := range s.Releases[version] {
		if strings.HasSuffix(strings.ToLower(a.Filename), ".whl") {
			wheels = append(wheels, a)
		}
	}
	return wheels
}

// ProjectDetail fetches a project's releases. A project without releases,
// which the JSON API reports as 404, yields nil and no error.
func (c *Client) ProjectDetail(ctx context.Context, name string) (*ProjectSnapshot, error) {
	var resp packageResponse
	if err := c.http.GetJSON(ctx, c.urls.ProjectJSON(name), &resp); err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching project %s: %w", name, err)
	}

	snap := &ProjectSnapshot{
		Name:     resp.Info.Name,
		Summary:  resp.Info.Summary,
		Version:  resp.Info.Version,
		Releases: make(map[string][]Asset, len(resp.Releases)),
	}
	for version, files := range resp.Releases {
		assets := make([]Asset, 0, len(files))
		for _, f := range files {
			assets = append(assets, f.asset())
		}
		snap.Releases[version] = assets
	}
	return snap, nil
}

func (f releaseFile) asset() Asset {
	a := Asset{
		Filename:       f.Filename,
		URL:            f.URL,
		Size:           f.Size,
		MD5:            strings.ToLower(f.Digests["md5"]),
		SHA256:         strings.ToLower(f.Digests["sha256"]),
		Yanked:         f.Yanked,
		PackageType:    f.PackageType,
		PythonVersion:  f.PythonVersion,
		RequiresPython: f.RequiresPython,
	}
	if f.UploadTimeISO8601 != "" {
		if t, err := time.Parse(time.RFC3339Nano, f.UploadTimeISO8601); err == nil {
			a.Uploaded = t.UTC()
		}
	}
	return a
}

// AssetDetail looks up a single file of a release. It returns nil and no
// error when the project, release or file is not (yet) visible.
func (c *Client) AssetDetail(ctx context.Context, project, version, filename string) (*Asset, error) {
	snap, err := c.ProjectDetail(ctx, project)
	if err != nil || snap == nil {
		return nil, err
	}
	for _, a := range snap.Releases[version] {
		if a.Filename == filename {
			return &a, nil
		}
	}
	return nil, nil
}
