package messaging

import (
	"fmt"
	"time"
)

// The closed set of cross-context message types.
const (
	TypePageVisitStart      = "pageVisitStart"
	TypePageVisitStop       = "pageVisitStop"
	TypePageAttentionUpdate = "pageAttentionUpdate"
	TypePageAudioUpdate     = "pageAudioUpdate"
	TypeURLChanged          = "urlChanged"
)

// VisitStartSchema describes pageVisitStart (page to background).
func VisitStartSchema() Schema {
	return Schema{
		"pageId":          KindString,
		"url":             KindString,
		"referrer":        KindString,
		"timeStamp":       KindNumber,
		"privateWindow":   KindBoolean,
		"isHistoryChange": KindBoolean,
	}
}

// VisitStopSchema describes pageVisitStop (page to background).
func VisitStopSchema() Schema {
	return Schema{
		"pageId":             KindString,
		"url":                KindString,
		"referrer":           KindString,
		"timeStamp":          KindNumber,
		"pageVisitStartTime": KindNumber,
		"privateWindow":      KindBoolean,
	}
}

// AttentionUpdateSchema describes pageAttentionUpdate (background to page).
func AttentionUpdateSchema() Schema {
	return Schema{
		"timeStamp":        KindNumber,
		"pageHasAttention": KindBoolean,
		"reason":           KindString,
	}
}

// AudioUpdateSchema describes pageAudioUpdate (background to page).
func AudioUpdateSchema() Schema {
	return Schema{
		"pageHasAudio": KindBoolean,
		"timeStamp":    KindNumber,
	}
}

// URLChangedSchema describes urlChanged (background to page).
func URLChangedSchema() Schema {
	return Schema{
		"timeStamp": KindNumber,
	}
}

// RegisterCoreSchemas registers every cross-context message schema on b.
func RegisterCoreSchemas(b *Bridge) {
	b.RegisterSchema(TypePageVisitStart, VisitStartSchema())
	b.RegisterSchema(TypePageVisitStop, VisitStopSchema())
	b.RegisterSchema(TypePageAttentionUpdate, AttentionUpdateSchema())
	b.RegisterSchema(TypePageAudioUpdate, AudioUpdateSchema())
	b.RegisterSchema(TypeURLChanged, URLChangedSchema())
}

// Wire timestamps are milliseconds since the Unix epoch, carried as numbers.
func msec(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func fromMsec(v float64) time.Time {
	return time.UnixMilli(int64(v))
}

// VisitStart is the typed form of pageVisitStart.
type VisitStart struct {
	PageID          string
	URL             string
	Referrer        string
	TimeStamp       time.Time
	PrivateWindow   bool
	IsHistoryChange bool
}

// Message encodes to wire form.
func (v VisitStart) Message() Message {
	return Message{
		"type":            TypePageVisitStart,
		"pageId":          v.PageID,
		"url":             v.URL,
		"referrer":        v.Referrer,
		"timeStamp":       msec(v.TimeStamp),
		"privateWindow":   v.PrivateWindow,
		"isHistoryChange": v.IsHistoryChange,
	}
}

// VisitStop is the typed form of pageVisitStop.
type VisitStop struct {
	PageID        string
	URL           string
	Referrer      string
	TimeStamp     time.Time
	VisitStart    time.Time
	PrivateWindow bool
}

// Message encodes to wire form.
func (v VisitStop) Message() Message {
	return Message{
		"type":               TypePageVisitStop,
		"pageId":             v.PageID,
		"url":                v.URL,
		"referrer":           v.Referrer,
		"timeStamp":          msec(v.TimeStamp),
		"pageVisitStartTime": msec(v.VisitStart),
		"privateWindow":      v.PrivateWindow,
	}
}

// AttentionUpdate is the typed form of pageAttentionUpdate.
type AttentionUpdate struct {
	TimeStamp        time.Time
	PageHasAttention bool
	Reason           string
}

// Message encodes to wire form.
func (a AttentionUpdate) Message() Message {
	return Message{
		"type":             TypePageAttentionUpdate,
		"timeStamp":        msec(a.TimeStamp),
		"pageHasAttention": a.PageHasAttention,
		"reason":           a.Reason,
	}
}

// AudioUpdate is the typed form of pageAudioUpdate.
type AudioUpdate struct {
	TimeStamp    time.Time
	PageHasAudio bool
}

// Message encodes to wire form.
func (a AudioUpdate) Message() Message {
	return Message{
		"type":         TypePageAudioUpdate,
		"pageHasAudio": a.PageHasAudio,
		"timeStamp":    msec(a.TimeStamp),
	}
}

// URLChanged is the typed form of urlChanged.
type URLChanged struct {
	TimeStamp time.Time
}

// Message encodes to wire form.
func (u URLChanged) Message() Message {
	return Message{
		"type":      TypeURLChanged,
		"timeStamp": msec(u.TimeStamp),
	}
}

func stringField(m Message, field string) (string, error) {
	v, ok := m[field].(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", field)
	}
	return v, nil
}

func boolField(m Message, field string) (bool, error) {
	v, ok := m[field].(bool)
	if !ok {
		return false, fmt.Errorf("field %q is not a boolean", field)
	}
	return v, nil
}

func timeField(m Message, field string) (time.Time, error) {
	switch v := m[field].(type) {
	case float64:
		return fromMsec(v), nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("field %q is not a number", field)
	}
}

// ParseVisitStart decodes a pageVisitStart message.
func ParseVisitStart(m Message) (VisitStart, error) {
	if m.Type() != TypePageVisitStart {
		return VisitStart{}, fmt.Errorf("message type is %q, want %q", m.Type(), TypePageVisitStart)
	}
	var v VisitStart
	var err error
	if v.PageID, err = stringField(m, "pageId"); err != nil {
		return VisitStart{}, err
	}
	if v.URL, err = stringField(m, "url"); err != nil {
		return VisitStart{}, err
	}
	if v.Referrer, err = stringField(m, "referrer"); err != nil {
		return VisitStart{}, err
	}
	if v.TimeStamp, err = timeField(m, "timeStamp"); err != nil {
		return VisitStart{}, err
	}
	if v.PrivateWindow, err = boolField(m, "privateWindow"); err != nil {
		return VisitStart{}, err
	}
	if v.IsHistoryChange, err = boolField(m, "isHistoryChange"); err != nil {
		return VisitStart{}, err
	}
	return v, nil
}

// ParseVisitStop decodes a pageVisitStop message.
func ParseVisitStop(m Message) (VisitStop, error) {
	if m.Type() != TypePageVisitStop {
		return VisitStop{}, fmt.Errorf("message type is %q, want %q", m.Type(), TypePageVisitStop)
	}
	var v VisitStop
	var err error
	if v.PageID, err = stringField(m, "pageId"); err != nil {
		return VisitStop{}, err
	}
	if v.URL, err = stringField(m, "url"); err != nil {
		return VisitStop{}, err
	}
	if v.Referrer, err = stringField(m, "referrer"); err != nil {
		return VisitStop{}, err
	}
	if v.TimeStamp, err = timeField(m, "timeStamp"); err != nil {
		return VisitStop{}, err
	}
	if v.VisitStart, err = timeField(m, "pageVisitStartTime"); err != nil {
		return VisitStop{}, err
	}
	if v.PrivateWindow, err = boolField(m, "privateWindow"); err != nil {
		return VisitStop{}, err
	}
	return v, nil
}

// ParseAttentionUpdate decodes a pageAttentionUpdate message.
func ParseAttentionUpdate(m Message) (AttentionUpdate, error) {
	if m.Type() != TypePageAttentionUpdate {
		return AttentionUpdate{}, fmt.Errorf("message type is %q, want %q", m.Type(), TypePageAttentionUpdate)
	}
	var a AttentionUpdate
	var err error
	if a.TimeStamp, err = timeField(m, "timeStamp"); err != nil {
		return AttentionUpdate{}, err
	}
	if a.PageHasAttention, err = boolField(m, "pageHasAttention"); err != nil {
		return AttentionUpdate{}, err
	}
	if a.Reason, err = stringField(m, "reason"); err != nil {
		return AttentionUpdate{}, err
	}
	return a, nil
}

// ParseAudioUpdate decodes a pageAudioUpdate message.
func ParseAudioUpdate(m Message) (AudioUpdate, error) {
	if m.Type() != TypePageAudioUpdate {
		return AudioUpdate{}, fmt.Errorf("message type is %q, want %q", m.Type(), TypePageAudioUpdate)
	}
	var a AudioUpdate
	var err error
	if a.TimeStamp, err = timeField(m, "timeStamp"); err != nil {
		return AudioUpdate{}, err
	}
	if a.PageHasAudio, err = boolField(m, "pageHasAudio"); err != nil {
		return AudioUpdate{}, err
	}
	return a, nil
}

// ParseURLChanged decodes an urlChanged message.
func ParseURLChanged(m Message) (URLChanged, error) {
	if m.Type() != TypeURLChanged {
		return URLChanged{}, fmt.Errorf("message type is %q, want %q", m.Type(), TypeURLChanged)
	}
	var u URLChanged
	var err error
	if u.TimeStamp, err = timeField(m, "timeStamp"); err != nil {
		return URLChanged{}, err
	}
	return u, nil
}
