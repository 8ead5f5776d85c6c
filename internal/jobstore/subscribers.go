package jobstore

import (
	"sync"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// subscriberHub fans persisted job states out to subscribers. Shared
// by the store implementations; notification is in-process in every
// backend, matching the one-orchestrator-per-job ownership model.
type subscriberHub struct {
	mu   sync.Mutex
	subs map[string]map[chan *types.GenerationJob]struct{}
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{subs: make(map[string]map[chan *types.GenerationJob]struct{})}
}

func subKey(projectID, jobID string) string {
	return projectID + "/" + jobID
}

// subscribe registers a subscriber channel and delivers the current
// state, all under the hub mutex: a concurrent notify cannot close the
// channel between registration and the snapshot send. A terminal
// snapshot closes the channel immediately without registering it.
func (h *subscriberHub) subscribe(projectID, jobID string, current *types.GenerationJob) (chan *types.GenerationJob, func()) {
	ch := make(chan *types.GenerationJob, 64)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch <- cloneJob(current)
	if current.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}

	key := subKey(projectID, jobID)
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan *types.GenerationJob]struct{})
	}
	h.subs[key][ch] = struct{}{}

	cleanup := func() {
		h.mu.Lock()
		if set, ok := h.subs[key]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
		h.mu.Unlock()
	}
	return ch, cleanup
}

// notify delivers a job state to all subscribers, dropping it for any
// subscriber whose buffer is full. After a terminal state the channels
// are closed and the key is released.
func (h *subscriberHub) notify(projectID string, job *types.GenerationJob) {
	key := subKey(projectID, job.ID)

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[key]
	if !ok {
		return
	}
	for ch := range set {
		select {
		case ch <- cloneJob(job):
		default:
		}
	}
	if job.Status.Terminal() {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, key)
	}
}
