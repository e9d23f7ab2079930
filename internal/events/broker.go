// Package events fans out job progress to live subscribers and keeps a short
// per-job backlog so reconnecting clients can replay what they missed.
package events

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

// Type names an event kind.
type Type string

const (
	TypeStatus Type = "status"
	TypeLog    Type = "log"
	TypeDone   Type = "done"
)

const (
	defaultQueueSize = 200
	subscriberBuffer = 64
)

// Event is a single job update.
type Event struct {
	ID     int64            `json:"id"`
	JobID  string           `json:"job_id"`
	Type   Type             `json:"type"`
	Status domain.JobStatus `json:"status,omitempty"`
	Stage  domain.Stage     `json:"stage,omitempty"`
	Stream string           `json:"stream,omitempty"`
	Line   string           `json:"line,omitempty"`
	Error  string           `json:"error,omitempty"`
	Time   time.Time        `json:"time"`
}

type subscriber struct {
	id int64
	ch chan Event
}

// Broker is an in-process event bus keyed by job ID.
type Broker struct {
	mu       sync.Mutex
	nextID   int64
	nextSub  int64
	maxQueue int
	queues   map[string]*list.List
	subs     map[string]map[int64]*subscriber
}

// NewBroker creates a broker keeping up to queueSize events per job.
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broker{
		maxQueue: queueSize,
		queues:   make(map[string]*list.List),
		subs:     make(map[string]map[int64]*subscriber),
	}
}

// Publish assigns the next event ID, records the event in the job's backlog
// and delivers it to current subscribers. A subscriber that cannot keep up is
// dropped and its channel closed; it can resubscribe from its last seen ID.
func (b *Broker) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ev.ID = b.nextID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	q, ok := b.queues[ev.JobID]
	if !ok {
		q = list.New()
		b.queues[ev.JobID] = q
	}
	q.PushBack(ev)
	for q.Len() > b.maxQueue {
		q.Remove(q.Front())
	}

	for id, sub := range b.subs[ev.JobID] {
		select {
		case sub.ch <- ev:
		default:
			slog.Debug("Dropping slow event subscriber", "job_id", ev.JobID, "subscriber", id)
			b.removeLocked(ev.JobID, id)
		}
	}
	return ev
}

// Subscribe returns the backlog after afterID and a channel of later events.
// Nothing is lost between the two. cancel must be called when done.
func (b *Broker) Subscribe(jobID string, afterID int64) (backlog []Event, ch <-chan Event, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[jobID]; ok {
		for e := q.Front(); e != nil; e = e.Next() {
			ev := e.Value.(Event)
			if ev.ID > afterID {
				backlog = append(backlog, ev)
			}
		}
	}

	b.nextSub++
	sub := &subscriber{id: b.nextSub, ch: make(chan Event, subscriberBuffer)}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int64]*subscriber)
	}
	b.subs[jobID][sub.id] = sub

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.removeLocked(jobID, sub.id)
		})
	}
	return backlog, sub.ch, cancel
}

// Forget drops the backlog of a job and disconnects its subscribers.
func (b *Broker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.queues, jobID)
	for id := range b.subs[jobID] {
		b.removeLocked(jobID, id)
	}
}

// Subscribers returns the number of live subscribers for a job.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Broker) removeLocked(jobID string, subID int64) {
	subs, ok := b.subs[jobID]
	if !ok {
		return
	}
	sub, ok := subs[subID]
	if !ok {
		return
	}
	close(sub.ch)
	delete(subs, subID)
	if len(subs) == 0 {
		delete(b.subs, jobID)
	}
}
