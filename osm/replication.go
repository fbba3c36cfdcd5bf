package osm

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	osm "github.com/omniscale/go-osm"
	"github.com/omniscale/go-osm/parser/changeset"
	"gopkg.in/yaml.v2"

	"github.com/osmcha/osmcha/errs"
)

// SequencePath splits a replication sequence into the AAA/BBB/CCC
// path used on the planet server (N = AAA*1000000 + BBB*1000 + CCC).
func SequencePath(seq int) string {
	c := seq % 1000
	b := seq / 1000 % 1000
	a := seq / 1000000
	return fmt.Sprintf("%03d/%03d/%03d", a, b, c)
}

// SequenceURL returns the URL of the gzipped changeset replication
// file for a sequence.
func (c *Client) SequenceURL(seq int) string {
	return c.ReplicationURL + SequencePath(seq) + ".osm.gz"
}

type replicationState struct {
	Time     yamlStateTime `yaml:"last_run"`
	Sequence int           `yaml:"sequence"`
}

type yamlStateTime struct {
	time.Time
}

func (y *yamlStateTime) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ts string
	if err := unmarshal(&ts); err != nil {
		return err
	}
	t, err := time.Parse("2006-01-02 15:04:05.999999999 -07:00", ts)
	y.Time = t
	return err
}

// LatestSequence reads the current replication sequence from the
// state.yaml file on the planet server.
func (c *Client) LatestSequence(ctx context.Context) (int, error) {
	url := c.ReplicationURL + "state.yaml"
	resp, err := c.do(ctx, "GET", url, nil, "", "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return 0, errs.Newf(errs.KindNetwork, "fetch %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errs.Newf(errs.KindNetwork, "reading %s: %s", url, err)
	}
	state, err := parseState(b)
	if err != nil {
		return 0, err
	}
	return state.Sequence, nil
}

func parseState(b []byte) (replicationState, error) {
	state := replicationState{}
	if err := yaml.Unmarshal(b, &state); err != nil {
		return replicationState{}, errs.Newf(errs.KindFormat, "parsing state.yaml: %s", err)
	}
	return state, nil
}

// FetchReplication streams all changesets of a replication sequence.
// The callback is invoked for each changeset; returning an error
// aborts the download.
func (c *Client) FetchReplication(ctx context.Context, seq int, fn func(osm.Changeset) error) error {
	url := c.SequenceURL(seq)
	resp, err := c.do(ctx, "GET", url, nil, "", "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return errs.Newf(errs.KindNotFound, "replication %d not available", seq)
	}
	if resp.StatusCode != 200 {
		return errs.Newf(errs.KindNetwork, "fetch %s: status %d", url, resp.StatusCode)
	}
	return parseReplication(ctx, resp.Body, fn)
}

func parseReplication(ctx context.Context, r io.Reader, fn func(osm.Changeset) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errs.Newf(errs.KindFormat, "gzip: %s", err)
	}
	defer gz.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changesets := make(chan osm.Changeset)
	parser := changeset.New(gz, changeset.Config{Changesets: changesets})

	parseErr := make(chan error, 1)
	go func() {
		parseErr <- parser.Parse(ctx)
	}()

	var cbErr error
	for ch := range changesets {
		if cbErr != nil {
			continue // drain after callback failure
		}
		if err := fn(ch); err != nil {
			cbErr = err
			cancel()
		}
	}
	if err := <-parseErr; err != nil && cbErr == nil {
		return errs.Newf(errs.KindFormat, "parsing replication file: %s", err)
	}
	return cbErr
}
