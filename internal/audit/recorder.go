// Package audit fans security events out to the analytics sinks. Record
// never blocks a request: events go into a buffered channel and a worker
// drains it; when the buffer is full the event is dropped and counted.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"agroassist-auth/internal/bucketing"
	"agroassist-auth/internal/models"
	"agroassist-auth/internal/util"
)

// EventProducer is the Kafka side of the fan-out.
type EventProducer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// EventWarehouse is the ClickHouse side.
type EventWarehouse interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// EventIndex is the Elasticsearch side, used both for writes and for
// identifier lookups.
type EventIndex interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) (*esapi.Response, error)
	Search(ctx context.Context, index string, query map[string]interface{}) (*esapi.Response, error)
	ParseResponse(res *esapi.Response, target interface{}) error
}

const insertEventQuery = `
    INSERT INTO security_events (
        event_id, event_bucket, event_date, event_time, event_type,
        user_id, identifier, ip_address, user_agent, details
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type Recorder struct {
	producer  EventProducer
	warehouse EventWarehouse
	index     EventIndex
	indexName string
	buckets   *bucketing.Manager

	events  chan *models.SecurityEvent
	dropped atomic.Int64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the drain worker. Any sink may be nil; the fan-out
// skips what is not configured.
func NewRecorder(producer EventProducer, warehouse EventWarehouse, index EventIndex, indexName string, buckets *bucketing.Manager) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		producer:  producer,
		warehouse: warehouse,
		index:     index,
		indexName: indexName,
		buckets:   buckets,
		events:    make(chan *models.SecurityEvent, 1024),
		cancel:    cancel,
		now:       time.Now,
	}

	r.wg.Add(1)
	go r.drain(ctx)

	return r
}

// Record enqueues an event. It fills in the id, time, and partition
// buckets, and never blocks or returns an error. Events recorded after
// Close are counted as dropped.
func (r *Recorder) Record(event *models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	now := r.now().UTC()
	if event.EventTime.IsZero() {
		event.EventTime = now
	}
	event.EventBucket = r.buckets.EventBucket(event.EventID)
	event.EventDate = r.buckets.DateBucket(event.EventTime)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.events <- event:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			util.Warn("audit buffer full, dropping events",
				util.Int("dropped_total", int(n)))
		}
	}
}

// Dropped returns how many events were lost to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops the worker after draining what is already queued. It is
// idempotent and safe against concurrent Record calls.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

func (r *Recorder) drain(ctx context.Context) {
	defer r.wg.Done()

	for event := range r.events {
		r.dispatch(ctx, event)
	}
}

func (r *Recorder) dispatch(ctx context.Context, event *models.SecurityEvent) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if r.producer != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			err = r.producer.Produce(sendCtx, []byte(event.EventType), payload)
		}
		if err != nil {
			util.Error("failed to publish security event",
				util.String("event_type", string(event.EventType)),
				util.ErrorField(err))
		}
	}

	if r.warehouse != nil {
		err := r.warehouse.Exec(sendCtx, insertEventQuery,
			event.EventID, uint32(event.EventBucket), event.EventDate,
			event.EventTime, string(event.EventType), event.UserID, event.Identifier,
			event.IPAddress, event.UserAgent, event.Details)
		if err != nil {
			util.Error("failed to insert security event",
				util.String("event_type", string(event.EventType)),
				util.ErrorField(err))
		}
	}

	if r.index != nil {
		res, err := r.index.IndexDocument(sendCtx, r.indexName, event.EventID, event)
		if err != nil {
			util.Error("failed to index security event",
				util.String("event_type", string(event.EventType)),
				util.ErrorField(err))
		} else if res != nil && res.Body != nil {
			res.Body.Close()
		}
	}
}

type searchHits struct {
	Hits struct {
		Hits []struct {
			Source models.SecurityEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns the most recent events for an identifier, newest first.
func (r *Recorder) Search(ctx context.Context, identifier string, limit int) ([]models.SecurityEvent, error) {
	if r.index == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"event_time": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"identifier": identifier,
			},
		},
	}

	res, err := r.index.Search(ctx, r.indexName, query)
	if err != nil {
		return nil, err
	}

	var hits searchHits
	if err := r.index.ParseResponse(res, &hits); err != nil {
		return nil, err
	}

	events := make([]models.SecurityEvent, 0, len(hits.Hits.Hits))
	for _, hit := range hits.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}
