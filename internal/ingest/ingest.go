// Package ingest drains the poller's output queue into the sensor history
// table, tagging each row with the cycle it was sampled under.
package ingest

import (
	"context"
	"log"
	"time"

	"hlr-control/internal/model"
	"hlr-control/internal/poller"
)

// Store is the persistence slice ingestion needs: history appends plus the
// cycle row read used to tag rows. Ingestion never writes the cycle row.
type Store interface {
	AppendSensorData(ctx context.Context, r model.SensorRow) error
	GetCycleState(ctx context.Context) (model.CycleState, error)
}

const defaultSensorType = "tongdy"

// Ingestor consumes queue items until its context ends. Write failures are
// logged and the item dropped; a missed history row must not stop the drain.
type Ingestor struct {
	store Store
	// sensor id -> sensor_type column value, for the ids that are not the
	// default tongdy probes (e.g. the type_k thermocouple).
	types map[int]string
	cache *stateCache
	now   func() time.Time
}

func New(st Store, types map[int]string) *Ingestor {
	return &Ingestor{store: st, types: types, cache: newStateCache(time.Second), now: time.Now}
}

func (i *Ingestor) Run(ctx context.Context, in <-chan poller.Item) {
	log.Printf("ingest: started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("ingest: stopped")
			return
		case item, ok := <-in:
			if !ok {
				log.Printf("ingest: queue closed")
				return
			}
			i.persist(ctx, item)
		}
	}
}

// Drain persists whatever is already buffered on the queue and returns as
// soon as it is empty. Called after the producer has stopped, so readings
// from the final round still reach the history table.
func (i *Ingestor) Drain(ctx context.Context, in <-chan poller.Item) {
	for {
		select {
		case item, ok := <-in:
			if !ok {
				return
			}
			i.persist(ctx, item)
		default:
			return
		}
	}
}

func (i *Ingestor) persist(ctx context.Context, item poller.Item) {
	row := model.SensorRow{
		DatetimeMS:  i.now().UnixMilli(),
		SensorID:    item.Data.SensorID,
		CO2:         item.Data.CO2,
		Temperature: item.Data.Temperature,
		Humidity:    item.Data.Humidity,
		SensorType:  i.sensorType(item.Data.SensorID),
	}

	// Tag with the cycle the sample belongs to; a failed state read leaves
	// the tags empty rather than losing the sample.
	st, ok := i.cache.get()
	if !ok {
		var err error
		if st, err = i.store.GetCycleState(ctx); err != nil {
			log.Printf("ingest: read cycle state: %v", err)
			st = model.CycleState{}
		} else {
			i.cache.set(st)
		}
	}
	row.Mode = string(st.SystemState)
	row.CyclicName = st.CyclicName

	if err := i.store.AppendSensorData(ctx, row); err != nil {
		log.Printf("ingest: %v", err)
	}
}

func (i *Ingestor) sensorType(id int) string {
	if t, ok := i.types[id]; ok && t != "" {
		return t
	}
	return defaultSensorType
}
