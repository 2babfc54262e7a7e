package auditor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	toConvertCap  = 1024
	toInsertCap   = 1024
	maxBatch      = 8192
	maxBatchDelay = time.Second
	insertTimeout = 3 * time.Second
)

// Record describes one outbound call to a provider.
type Record struct {
	Provider   string          `json:"provider"`
	Operation  string          `json:"operation"`
	RequestID  string          `json:"request_id"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	StatusCode int             `json:"status_code,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	payload interface{}
}

// Sink stores a batch of audit records.
type Sink interface {
	Put(ctx context.Context, records []*Record) error
}

// Auditor collects records of outbound calls and writes them to the sink in batches
// of up to maxBatch records or every maxBatchDelay.
type Auditor struct {
	sink      Sink
	toConvert chan *Record
	toInsert  chan *Record
	l         *zap.Logger
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	mConvertLen     prometheus.Gauge
	mConvertCap     prometheus.Gauge
	mInsertLen      prometheus.Gauge
	mInsertCap      prometheus.Gauge
	mInsertSize     prometheus.Histogram
	mInsertDuration prometheus.Histogram
	mInsertErrors   prometheus.Counter
}

func NewAuditor(sink Sink) *Auditor {
	a := &Auditor{
		sink:      sink,
		toConvert: make(chan *Record, toConvertCap),
		toInsert:  make(chan *Record, toInsertCap),
		l:         zap.L().Named("auditor"),
		mConvertLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditor_convert_len",
			Help: "Length of internal convert channel.",
		}),
		mConvertCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditor_convert_cap",
			Help: "Capacity of internal convert channel.",
		}),
		mInsertLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditor_insert_len",
			Help: "Length of internal insert channel.",
		}),
		mInsertCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditor_insert_cap",
			Help: "Capacity of internal insert channel.",
		}),
		mInsertSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditor_insert_size_rows",
			Help:    "Size of a single batch insert.",
			Buckets: prometheus.ExponentialBuckets(maxBatch/32, 2, 5),
		}),
		mInsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditor_insert_duration_seconds",
			Help:    "Duration of a single batch insert.",
			Buckets: prometheus.ExponentialBuckets(maxBatchDelay.Seconds()/32, 2, 5),
		}),
		mInsertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditor_insert_errors_total",
			Help: "Number of failed batch inserts.",
		}),
	}

	a.l.Info("Started.")
	a.wg.Add(2)
	go a.runConverter()
	go a.runInserter()
	return a
}

// Stop flushes pending records and waits for the workers to exit.
func (a *Auditor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	close(a.toConvert)
	a.mu.Unlock()

	a.wg.Wait()
	a.l.Info("Stopped.")
}

// Log enqueues rec. payload is marshaled to JSON into rec.Body off the caller's
// goroutine. Records logged after Stop are dropped.
func (a *Auditor) Log(ctx context.Context, rec Record, payload interface{}) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.payload = payload

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		a.l.Warn("Audit record dropped, auditor stopped.", zap.String("request_id", rec.RequestID))
		return
	}
	a.toConvert <- &rec
}

func (a *Auditor) runConverter() {
	defer a.wg.Done()

	for m := range a.toConvert {
		if m.payload != nil {
			body, err := json.Marshal(m.payload)
			if err != nil {
				a.l.Error("Failed to marshal audit log message to JSON.", zap.Error(err))
				continue
			}
			m.Body = body
			m.payload = nil
		}

		a.toInsert <- m
	}

	close(a.toInsert)
}

func (a *Auditor) runInserter() {
	defer a.wg.Done()
	t := time.NewTicker(maxBatchDelay)
	defer t.Stop()

	var exit bool
	for !exit {
		// collect batch up to maxBatch messages and up to maxBatchDelay seconds
		messages := make([]*Record, 0, 64)
		var insert bool
		for !insert {
			select {
			case m := <-a.toInsert:
				if m == nil {
					exit = true
					insert = true
					break
				}

				messages = append(messages, m)
				if len(messages) == maxBatch {
					insert = true
				}

			case <-t.C:
				insert = true
			}
		}
		if len(messages) > 0 {
			a.insertBatch(messages)
		}
	}
}

func (a *Auditor) insertBatch(messages []*Record) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer func() {
		cancel()
		d := time.Since(start)
		a.mInsertSize.Observe(float64(len(messages)))
		a.mInsertDuration.Observe(d.Seconds())
		a.l.Debug("Audit log messages inserted.", zap.Int("count", len(messages)), zap.Duration("duration", d))
	}()
	if err := a.sink.Put(ctx, messages); err != nil {
		a.mInsertErrors.Inc()
		a.l.Error("Failed to put audit log message.", zap.Error(err))
	}
}

func (a *Auditor) Describe(ch chan<- *prometheus.Desc) {
	a.mConvertLen.Describe(ch)
	a.mConvertCap.Describe(ch)
	a.mInsertLen.Describe(ch)
	a.mInsertCap.Describe(ch)
	a.mInsertSize.Describe(ch)
	a.mInsertDuration.Describe(ch)
	a.mInsertErrors.Describe(ch)
}

func (a *Auditor) Collect(ch chan<- prometheus.Metric) {
	a.mConvertLen.Set(float64(len(a.toConvert)))
	a.mConvertCap.Set(float64(cap(a.toConvert)))
	a.mInsertLen.Set(float64(len(a.toInsert)))
	a.mInsertCap.Set(float64(cap(a.toInsert)))

	a.mConvertLen.Collect(ch)
	a.mConvertCap.Collect(ch)
	a.mInsertLen.Collect(ch)
	a.mInsertCap.Collect(ch)
	a.mInsertSize.Collect(ch)
	a.mInsertDuration.Collect(ch)
	a.mInsertErrors.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Auditor)(nil)
)
