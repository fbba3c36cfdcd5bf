package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/log"
	"github.com/osmcha/osmcha/store"
)

// TaskForwarder pushes suspicious features as tasks into
// MapRoulette challenges. Without a configured endpoint every call
// is a no-op.
type TaskForwarder struct {
	url    string
	apiKey string
	store  *store.Store
	client *http.Client
}

// NewTaskForwarder posts tasks to baseURL + "/task". An empty
// baseURL disables forwarding.
func NewTaskForwarder(baseURL, apiKey string, st *store.Store) *TaskForwarder {
	url := ""
	if baseURL != "" {
		url = strings.TrimSuffix(baseURL, "/") + "/task"
	}
	return &TaskForwarder{
		url:    url,
		apiKey: apiKey,
		store:  st,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type taskPayload struct {
	Parent     int            `json:"parent"`
	Name       string         `json:"name"`
	Geometries taskGeometries `json:"geometries"`
}

type taskGeometries struct {
	Features []json.RawMessage `json:"features"`
}

// ForwardFeature sends the feature to every active challenge whose
// reason set overlaps reasonIDs. One request per challenge, no
// matter how many reasons overlap.
func (f *TaskForwarder) ForwardFeature(ctx context.Context, name string, reasonIDs []int64, feature json.RawMessage) error {
	if f.url == "" {
		return nil
	}
	challenges, err := f.store.ActiveChallengesForReasons(ctx, reasonIDs)
	if err != nil {
		return err
	}
	for _, challenge := range challenges {
		if err := f.pushTask(ctx, challenge.ChallengeID, name, feature); err != nil {
			log.Errorf("pushing feature %s to challenge %d: %s", name, challenge.ChallengeID, err)
			return err
		}
	}
	return nil
}

func (f *TaskForwarder) pushTask(ctx context.Context, challengeID int, name string, feature json.RawMessage) error {
	payload := taskPayload{
		Parent:     challengeID,
		Name:       name,
		Geometries: taskGeometries{Features: []json.RawMessage{feature}},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", f.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apiKey", f.apiKey)
	resp, err := f.client.Do(req)
	if err != nil {
		return errs.Newf(errs.KindNetwork, "posting maproulette task: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errs.Newf(errs.KindNetwork, "posting maproulette task: status %d", resp.StatusCode)
	}
	return nil
}
