// Package osm talks to the OpenStreetMap API and the changeset
// replication stream on the planet server.
package osm

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	osm "github.com/omniscale/go-osm"
	"github.com/omniscale/go-osm/parser/diff"

	"github.com/osmcha/osmcha/errs"
)

type Client struct {
	APIURL         string
	ReplicationURL string
	UserAgent      string

	client *http.Client

	mu   sync.Mutex
	next time.Time
	// MinInterval throttles all outgoing calls of this client.
	MinInterval time.Duration
	// RetryBackoff is the initial wait before retrying on 429/5xx.
	RetryBackoff time.Duration
}

func NewClient(apiURL, replicationURL, userAgent string) *Client {
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 1 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return &Client{
		APIURL:         strings.TrimSuffix(apiURL, "/") + "/",
		ReplicationURL: strings.TrimSuffix(replicationURL, "/") + "/",
		UserAgent:      userAgent,
		MinInterval:    100 * time.Millisecond,
		RetryBackoff:   1 * time.Second,
		client:         client,
	}
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.next = now.Add(wait + c.MinInterval)
	c.mu.Unlock()
	if wait == 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do performs a single request, retrying on 429 and 5xx responses
// with exponential backoff. The caller must close the response body.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType, auth string) (*http.Response, error) {
	backoff := c.RetryBackoff
	const maxAttempts = 4

	var buf []byte
	if body != nil {
		var err error
		buf, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 1; ; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		var reqBody io.Reader
		if buf != nil {
			reqBody = strings.NewReader(string(buf))
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.UserAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < maxAttempts {
				if err := sleep(ctx, backoff); err != nil {
					return nil, err
				}
				backoff *= 2
				continue
			}
			return nil, errs.Wrap(errs.Newf(errs.KindNetwork, "request %s: %s", url, err), "osm client")
		}
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt < maxAttempts {
				if err := sleep(ctx, backoff); err != nil {
					return nil, err
				}
				backoff *= 2
				continue
			}
			return nil, errs.Newf(errs.KindNetwork, "request %s: status %d", url, resp.StatusCode)
		}
		return resp, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type osmFile struct {
	XMLName    xml.Name       `xml:"osm"`
	Changesets []xmlChangeset `xml:"changeset"`
	User       *xmlUser       `xml:"user"`
}

type xmlChangeset struct {
	ID            int64    `xml:"id,attr"`
	CreatedAt     string   `xml:"created_at,attr"`
	ClosedAt      string   `xml:"closed_at,attr"`
	Open          bool     `xml:"open,attr"`
	User          string   `xml:"user,attr"`
	UID           int32    `xml:"uid,attr"`
	MinLon        float64  `xml:"min_lon,attr"`
	MinLat        float64  `xml:"min_lat,attr"`
	MaxLon        float64  `xml:"max_lon,attr"`
	MaxLat        float64  `xml:"max_lat,attr"`
	CommentsCount int      `xml:"comments_count,attr"`
	ChangesCount  int32    `xml:"changes_count,attr"`
	Tags          []xmlTag `xml:"tag"`
}

type xmlTag struct {
	Key   string `xml:"k,attr"`
	Value string `xml:"v,attr"`
}

type xmlUser struct {
	DisplayName string `xml:"display_name,attr"`
	ID          int64  `xml:"id,attr"`
	Changesets  struct {
		Count int `xml:"count,attr"`
	} `xml:"changesets"`
}

// UserInfo is the subset of the OSM user profile the analyser needs.
type UserInfo struct {
	DisplayName     string
	ChangesetsCount int
}

// FetchChangeset returns the metadata of a single changeset.
func (c *Client) FetchChangeset(ctx context.Context, id int64) (*osm.Changeset, error) {
	url := fmt.Sprintf("%schangeset/%d", c.APIURL, id)
	resp, err := c.do(ctx, "GET", url, nil, "", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return nil, errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if resp.StatusCode != 200 {
		return nil, errs.Newf(errs.KindNetwork, "fetch changeset %d: status %d", id, resp.StatusCode)
	}

	f := osmFile{}
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, errs.Newf(errs.KindFormat, "decoding changeset %d: %s", id, err)
	}
	if len(f.Changesets) == 0 {
		return nil, errs.Newf(errs.KindFormat, "no changeset element in response for %d", id)
	}
	ch := f.Changesets[0]
	result := &osm.Changeset{
		ID:         ch.ID,
		Open:       ch.Open,
		UserID:     ch.UID,
		UserName:   ch.User,
		NumChanges: ch.ChangesCount,
		MaxExtent:  [4]float64{ch.MinLon, ch.MinLat, ch.MaxLon, ch.MaxLat},
		Tags:       make(osm.Tags, len(ch.Tags)),
	}
	result.CreatedAt, _ = time.Parse(time.RFC3339, ch.CreatedAt)
	result.ClosedAt, _ = time.Parse(time.RFC3339, ch.ClosedAt)
	for _, t := range ch.Tags {
		result.Tags[t.Key] = t.Value
	}
	// comments_count is carried through the Comments slice length by
	// callers that only need the count
	for i := 0; i < ch.CommentsCount; i++ {
		result.Comments = append(result.Comments, osm.Comment{})
	}
	return result, nil
}

// Counts holds the number of changed elements per action type,
// counted from the osmChange download of a changeset.
type Counts struct {
	Create int
	Modify int
	Delete int
	// ChangedTags collects the distinct tag values of created and
	// modified elements, keyed by tag key.
	ChangedTags map[string][]string
}

func (c *Counts) addTags(tags osm.Tags) {
	for key, value := range tags {
		values := c.ChangedTags[key]
		seen := false
		for _, v := range values {
			if v == value {
				seen = true
				break
			}
		}
		if !seen {
			if c.ChangedTags == nil {
				c.ChangedTags = map[string][]string{}
			}
			c.ChangedTags[key] = append(values, value)
		}
	}
}

// FetchChangesetCounts downloads the osmChange document of a
// changeset and counts created, modified and deleted elements.
func (c *Client) FetchChangesetCounts(ctx context.Context, id int64) (Counts, error) {
	url := fmt.Sprintf("%schangeset/%d/download", c.APIURL, id)
	resp, err := c.do(ctx, "GET", url, nil, "", "")
	if err != nil {
		return Counts{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return Counts{}, errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if resp.StatusCode != 200 {
		return Counts{}, errs.Newf(errs.KindNetwork, "download changeset %d: status %d", id, resp.StatusCode)
	}

	diffs := make(chan osm.Diff)
	parser := diff.New(resp.Body, diff.Config{Diffs: diffs})

	parseErr := make(chan error, 1)
	go func() {
		parseErr <- parser.Parse(ctx)
	}()

	counts := Counts{}
	for elem := range diffs {
		switch {
		case elem.Create:
			counts.Create++
		case elem.Modify:
			counts.Modify++
		case elem.Delete:
			counts.Delete++
		}
		if elem.Delete {
			continue
		}
		switch {
		case elem.Node != nil:
			counts.addTags(elem.Node.Tags)
		case elem.Way != nil:
			counts.addTags(elem.Way.Tags)
		case elem.Rel != nil:
			counts.addTags(elem.Rel.Tags)
		}
	}
	if err := <-parseErr; err != nil {
		return Counts{}, errs.Newf(errs.KindFormat, "parsing osmChange of %d: %s", id, err)
	}
	return counts, nil
}

// FetchUser reads the public profile of an OSM user id.
func (c *Client) FetchUser(ctx context.Context, uid int64) (UserInfo, error) {
	url := fmt.Sprintf("%suser/%d", c.APIURL, uid)
	resp, err := c.do(ctx, "GET", url, nil, "", "")
	if err != nil {
		return UserInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return UserInfo{}, errs.Newf(errs.KindNotFound, "user %d not found", uid)
	}
	if resp.StatusCode != 200 {
		return UserInfo{}, errs.Newf(errs.KindNetwork, "fetch user %d: status %d", uid, resp.StatusCode)
	}
	f := osmFile{}
	if err := xml.NewDecoder(resp.Body).Decode(&f); err != nil {
		return UserInfo{}, errs.Newf(errs.KindFormat, "decoding user %d: %s", uid, err)
	}
	if f.User == nil {
		return UserInfo{}, errs.Newf(errs.KindFormat, "no user element in response for %d", uid)
	}
	return UserInfo{
		DisplayName:     f.User.DisplayName,
		ChangesetsCount: f.User.Changesets.Count,
	}, nil
}

// FetchUserDisplayName resolves the current display name of an OSM
// user id.
func (c *Client) FetchUserDisplayName(ctx context.Context, uid int64) (string, error) {
	info, err := c.FetchUser(ctx, uid)
	if err != nil {
		return "", err
	}
	return info.DisplayName, nil
}

// PostChangesetComment posts a comment to a changeset on the OSM
// website on behalf of the user owning the token.
func (c *Client) PostChangesetComment(ctx context.Context, token string, changesetID int64, text string) error {
	u := fmt.Sprintf("%schangeset/%d/comment", c.APIURL, changesetID)
	body := url.Values{"text": []string{text}}.Encode()
	resp, err := c.do(ctx, "POST", u, strings.NewReader(body),
		"application/x-www-form-urlencoded", "Bearer "+token)
	if err != nil {
		return errs.Newf(errs.KindCommentPost, "comment on %d: %s", changesetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return errs.Newf(errs.KindCommentPost, "comment on %d: status %d", changesetID, resp.StatusCode)
	}
	return nil
}
