package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"agroassist-auth/internal/bucketing"
	"agroassist-auth/internal/config"
	"agroassist-auth/internal/models"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *fakeProducer) Produce(ctx context.Context, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, value)
	return nil
}

type fakeWarehouse struct {
	mu   sync.Mutex
	rows [][]interface{}
}

func (w *fakeWarehouse) Exec(ctx context.Context, query string, args ...interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, args)
	return nil
}

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string]interface{}
}

func (i *fakeIndex) IndexDocument(ctx context.Context, index, id string, document interface{}) (*esapi.Response, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.docs == nil {
		i.docs = make(map[string]interface{})
	}
	i.docs[id] = document
	return nil, nil
}

func (i *fakeIndex) Search(ctx context.Context, index string, query map[string]interface{}) (*esapi.Response, error) {
	return nil, nil
}

func (i *fakeIndex) ParseResponse(res *esapi.Response, target interface{}) error {
	return nil
}

func testBuckets() *bucketing.Manager {
	return bucketing.NewManager(&config.Config{
		Bucketing: config.BucketingConfig{UserBuckets: 8, EventBuckets: 4},
	})
}

func TestRecordFansOutToAllSinks(t *testing.T) {
	producer := &fakeProducer{}
	warehouse := &fakeWarehouse{}
	index := &fakeIndex{}

	r := NewRecorder(producer, warehouse, index, "security-events", testBuckets())

	r.Record(&models.SecurityEvent{
		EventType:  models.EventLoginSuccess,
		UserID:     "u-1",
		Identifier: "farmer@example.com",
	})
	r.Close()

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 kafka message, got %d", len(producer.messages))
	}
	if len(warehouse.rows) != 1 {
		t.Fatalf("expected 1 warehouse row, got %d", len(warehouse.rows))
	}
	if len(index.docs) != 1 {
		t.Fatalf("expected 1 indexed doc, got %d", len(index.docs))
	}
}

func TestRecordFillsMetadata(t *testing.T) {
	warehouse := &fakeWarehouse{}
	r := NewRecorder(nil, warehouse, nil, "", testBuckets())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	event := &models.SecurityEvent{EventType: models.EventOTPRequested}
	r.Record(event)
	r.Close()

	if event.EventID == "" {
		t.Fatal("expected event id to be assigned")
	}
	if event.EventDate != "2025-06-01" {
		t.Fatalf("unexpected event date %q", event.EventDate)
	}
	if !event.EventTime.Equal(fixed) {
		t.Fatalf("unexpected event time %v", event.EventTime)
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	r := NewRecorder(nil, nil, nil, "", testBuckets())
	r.Close()

	// Late shutdown events must not panic the recorder.
	r.Record(&models.SecurityEvent{EventType: models.EventLogout})
	if r.Dropped() != 1 {
		t.Fatalf("expected late event counted as dropped, got %d", r.Dropped())
	}

	// A second Close is a no-op.
	r.Close()
}

func TestRecordDropsWhenBufferFull(t *testing.T) {
	// No sinks and no worker consumption race: fill the channel directly.
	r := &Recorder{
		events:  make(chan *models.SecurityEvent, 1),
		buckets: testBuckets(),
		now:     time.Now,
	}

	r.Record(&models.SecurityEvent{EventType: models.EventLogout})
	r.Record(&models.SecurityEvent{EventType: models.EventLogout})

	if r.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", r.Dropped())
	}
}
