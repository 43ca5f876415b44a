package selfie

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pictora/pictora/internal/clock"
)

// ScheduleProvider answers "what is the persona doing right now". A nil
// activity with a nil error means nothing is scheduled and the cycle
// must be skipped.
type ScheduleProvider interface {
	CurrentActivity(ctx context.Context) (*Activity, error)
}

// goalRecord is one row of the planner's goals table.
type goalRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"column:title"`
	Category  string `gorm:"column:category"`
	Location  string `gorm:"column:location"`
	StartUnix int64  `gorm:"column:start_unix;index"`
	EndUnix   int64  `gorm:"column:end_unix"`
}

func (goalRecord) TableName() string { return "goals" }

// PlannerProvider reads the current activity from a planner SQLite
// database shared with the schedule-keeping collaborator.
type PlannerProvider struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *zap.Logger
}

var _ ScheduleProvider = (*PlannerProvider)(nil)

// NewPlannerProvider opens the planner database and ensures the goals
// table exists.
func NewPlannerProvider(path string, clk clock.Clock, logger *zap.Logger) (*PlannerProvider, error) {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening planner database %q: %w", path, err)
	}
	if err := db.AutoMigrate(&goalRecord{}); err != nil {
		return nil, fmt.Errorf("migrating planner database: %w", err)
	}

	return &PlannerProvider{
		db:     db,
		clock:  clk,
		logger: logger.With(zap.String("component", "planner_provider")),
	}, nil
}

// CurrentActivity returns the goal covering the current instant, nil
// when no goal is active.
func (p *PlannerProvider) CurrentActivity(ctx context.Context) (*Activity, error) {
	now := p.clock.Now().Unix()

	var rec goalRecord
	err := p.db.WithContext(ctx).
		Where("start_unix <= ? AND end_unix > ?", now, now).
		Order("start_unix DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying current goal: %w", err)
	}

	return &Activity{
		Type:     classify(rec.Category),
		Title:    rec.Title,
		Location: rec.Location,
	}, nil
}
