package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/classroom/classroom/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const entityUser = "user"

// Event is one user-facing action worth keeping an audit trail of.
type Event struct {
	UserID   string
	Action   string
	Metadata map[string]interface{}
}

// Recorder stores events. Recording is best effort: implementations log
// failures and never return them.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type LogRecorder struct {
	logger *logrus.Logger
}

func NewLogRecorder(logger *logrus.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, ev Event) {
	r.logger.WithFields(logrus.Fields{
		"user_id":  ev.UserID,
		"action":   ev.Action,
		"metadata": ev.Metadata,
	}).Info("User activity")
}

type GormRecorder struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewGormRecorder(db *gorm.DB, logger *logrus.Logger) *GormRecorder {
	return &GormRecorder{db: db, logger: logger, now: time.Now}
}

func (r *GormRecorder) Record(ctx context.Context, ev Event) {
	row := models.ActivityLog{
		UserID:     ev.UserID,
		Action:     ev.Action,
		EntityType: entityUser,
		EntityID:   ev.UserID,
		CreatedAt:  r.now().UTC(),
	}
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			r.logger.WithError(err).WithField("action", ev.Action).Warn("Failed to encode activity metadata")
		} else {
			row.Metadata = string(raw)
		}
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": ev.UserID,
			"action":  ev.Action,
		}).Warn("Failed to record activity")
	}
}
