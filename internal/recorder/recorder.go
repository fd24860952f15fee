// Package recorder persists page visit lifecycle messages. It listens on
// the message bridge and writes one PageVisit row per logical page, opened
// on pageVisitStart and completed on pageVisitStop.
package recorder

import (
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pagewatch/internal/database"
	"pagewatch/internal/messaging"
	"pagewatch/internal/models"
)

// Recorder writes page visits to the repository.
type Recorder struct {
	repo          *database.Repository
	recordPrivate bool
	log           *zap.Logger
}

// New creates a recorder. When recordPrivate is false, visits in private
// windows never reach the database.
func New(repo *database.Repository, recordPrivate bool, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{repo: repo, recordPrivate: recordPrivate, log: log}
}

// Attach registers the recorder's listeners on the bridge.
func (r *Recorder) Attach(b *messaging.Bridge) {
	b.RegisterListener(messaging.TypePageVisitStart, r.onVisitStart, nil)
	b.RegisterListener(messaging.TypePageVisitStop, r.onVisitStop, nil)
}

func (r *Recorder) onVisitStart(msg messaging.Message, _ messaging.PageContextID) any {
	start, err := messaging.ParseVisitStart(msg)
	if err != nil {
		r.log.Warn("malformed pageVisitStart", zap.Error(err))
		return nil
	}
	if start.PrivateWindow && !r.recordPrivate {
		return nil
	}

	visit := &models.PageVisit{
		PageID:        start.PageID,
		URL:           start.URL,
		Domain:        Domain(start.URL),
		Referrer:      start.Referrer,
		StartTime:     start.TimeStamp,
		PrivateWindow: start.PrivateWindow,
		HistoryChange: start.IsHistoryChange,
	}
	if err := r.repo.CreateVisit(visit); err != nil {
		r.log.Warn("failed to record visit start",
			zap.String("pageId", start.PageID), zap.Error(err))
		r.logError(err, start.PageID, start.TimeStamp)
	}
	return nil
}

func (r *Recorder) onVisitStop(msg messaging.Message, _ messaging.PageContextID) any {
	stop, err := messaging.ParseVisitStop(msg)
	if err != nil {
		r.log.Warn("malformed pageVisitStop", zap.Error(err))
		return nil
	}
	if stop.PrivateWindow && !r.recordPrivate {
		return nil
	}

	err = r.repo.CompleteVisit(stop.PageID, stop.TimeStamp)
	if err == gorm.ErrRecordNotFound {
		// The start was never recorded; nothing to complete.
		r.log.Debug("visit stop without recorded start", zap.String("pageId", stop.PageID))
		return nil
	}
	if err != nil {
		r.log.Warn("failed to record visit stop",
			zap.String("pageId", stop.PageID), zap.Error(err))
		r.logError(err, stop.PageID, stop.TimeStamp)
	}
	return nil
}

func (r *Recorder) logError(cause error, pageID string, t time.Time) {
	entry := &models.ErrorLog{Timestamp: t, PageID: pageID, ErrorMsg: cause.Error()}
	if err := r.repo.CreateErrorLog(entry); err != nil {
		r.log.Warn("failed to write error log", zap.Error(err))
	}
}

// Domain extracts the host from a URL for aggregation, without the port.
// Unparseable URLs aggregate under "unknown".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
