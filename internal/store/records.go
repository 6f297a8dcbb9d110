package store

import (
	"context"
	"encoding/json"
	"fmt"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

// RecurringEventsKey holds the ordered list of every recurring-event record.
const RecurringEventsKey = "recurringEvents"

// RecordStore reads and writes the whole record collection under
// RecurringEventsKey. Every write replaces the collection; there is no
// version check, so concurrent writers can lose updates.
type RecordStore struct {
	kv KV
}

func NewRecordStore(kv KV) *RecordStore {
	return &RecordStore{kv: kv}
}

// LoadAll returns the stored records in storage order, or an empty slice
// when nothing has been stored yet. An element that does not decode is
// kept as an undecodable record carrying its raw bytes and whatever id
// can be read from it.
func (s *RecordStore) LoadAll(ctx context.Context) ([]model.RecurringEventRecord, error) {
	elems, err := Load(ctx, s.kv, RecurringEventsKey, []json.RawMessage{})
	if err != nil {
		return nil, err
	}

	recs := make([]model.RecurringEventRecord, 0, len(elems))
	for i, elem := range elems {
		var rec model.RecurringEventRecord
		err := json.Unmarshal(elem, &rec)
		if err == nil {
			recs = append(recs, rec)
			continue
		}

		var head struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(elem, &head)
		appLog.Debug("store: undecodable record", "id", head.ID, "index", i, "reason", err.Error())
		recs = append(recs, model.RecurringEventRecord{ID: head.ID, Raw: append(json.RawMessage(nil), elem...)})
	}
	return recs, nil
}

// SaveAll replaces the stored collection with recs. Undecodable records
// are written back byte for byte.
func (s *RecordStore) SaveAll(ctx context.Context, recs []model.RecurringEventRecord) error {
	elems := make([]json.RawMessage, 0, len(recs))
	for _, rec := range recs {
		if rec.Undecodable() {
			elems = append(elems, rec.Raw)
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: encode record %s: %w", rec.ID, err)
		}
		elems = append(elems, raw)
	}
	return Save(ctx, s.kv, map[string]any{RecurringEventsKey: elems})
}
