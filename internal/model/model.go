package model

import "encoding/json"

// RuleType is the closed set of recurrence kinds.
type RuleType string

const (
	RuleNone     RuleType = "NONE"
	RuleDaily    RuleType = "DAILY"
	RuleWeekly   RuleType = "WEEKLY"
	RuleMonthly  RuleType = "MONTHLY"
	RuleWeekdays RuleType = "WEEKDAYS"
)

// Known reports whether t is one of the five declared rule types.
func (t RuleType) Known() bool {
	switch t {
	case RuleNone, RuleDaily, RuleWeekly, RuleMonthly, RuleWeekdays:
		return true
	}
	return false
}

// RecurrenceRule is the persisted recurrence descriptor of a series.
//
// The JSON shape is the storage schema, so every field keeps its stored
// name. Dates are calendar dates in YYYY-MM-DD form.
type RecurrenceRule struct {
	Type      RuleType `json:"type"`
	StartDate string   `json:"startDate,omitempty"`
	// EndDate is inclusive; empty (or JSON null) means unbounded.
	EndDate string `json:"endDate,omitempty"`
	// Interval is nil when the stored rule omits it; EffectiveInterval
	// applies the default of 1.
	Interval *int `json:"interval,omitempty"`
	// DaysOfWeek uses 0=Sunday..6=Saturday and only applies to WEEKLY.
	DaysOfWeek []int   `json:"daysOfWeek,omitempty"`
	Exceptions DateSet `json:"exceptions,omitempty"`
}

// EffectiveInterval returns the configured step or 1 when unset. Zero and
// negative values are returned as-is so the matcher can reject them.
func (r RecurrenceRule) EffectiveInterval() int {
	if r.Interval == nil {
		return 1
	}
	return *r.Interval
}

// RecurringEventRecord is one stored series definition.
type RecurringEventRecord struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	StartTime   string          `json:"startTime,omitempty"`
	EndTime     string          `json:"endTime,omitempty"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Recurrence  *RecurrenceRule `json:"recurrence,omitempty"`

	// Raw holds the stored bytes of a record that failed to decode. Such a
	// record only carries its ID, never occurs, and is written back
	// unchanged.
	Raw json.RawMessage `json:"-"`
}

// Undecodable reports whether the record was kept as raw stored bytes.
func (r RecurringEventRecord) Undecodable() bool {
	return r.Raw != nil
}

// IsRecurring reports whether the engine should consider this record.
func (r RecurringEventRecord) IsRecurring() bool {
	return r.Recurrence != nil
}

// Instance is a transient projection of a record onto one occurrence date.
// It is never persisted.
type Instance struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	IsRecurringInstance bool   `json:"isRecurringInstance"`
	InstanceDate        string `json:"instanceDate"`
	OriginalID          string `json:"originalId"`
}

// NewInstance copies the display fields of rec and tags the copy with the
// occurrence date and the owning series id.
func NewInstance(rec RecurringEventRecord, date string) Instance {
	return Instance{
		ID:                  rec.ID,
		Title:               rec.Title,
		StartTime:           rec.StartTime,
		EndTime:             rec.EndTime,
		Description:         rec.Description,
		Location:            rec.Location,
		IsRecurringInstance: true,
		InstanceDate:        date,
		OriginalID:          rec.ID,
	}
}
