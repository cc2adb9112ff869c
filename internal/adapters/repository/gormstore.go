package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/okian/tally/internal/domain/event"
)

// GormStore implements Gateway on gorm.
type GormStore struct {
	db        *gorm.DB
	batchSize int
	now       func() time.Time
}

var _ Gateway = (*GormStore)(nil)

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string, opts ...Option) (*GormStore, error) {
	cfg := newStoreConfig(opts)
	db, err := OpenGorm(driver, dsn, cfg.logLevel)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return newGormStore(db, cfg)
}

// NewGormStore wraps an already opened database and migrates the schema.
func NewGormStore(db *gorm.DB, opts ...Option) (*GormStore, error) {
	return newGormStore(db, newStoreConfig(opts))
}

func newStoreConfig(opts []Option) storeConfig {
	cfg := storeConfig{
		batchSize: defaultInsertBatchSize,
		logLevel:  gormlogger.Warn,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newGormStore(db *gorm.DB, cfg storeConfig) (*GormStore, error) { //nolint:gocritic // config is consumed once
	if err := db.AutoMigrate(&interactionEventRow{}, &gameSessionRow{}, &gameAssignmentRow{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &GormStore{db: db, batchSize: cfg.batchSize, now: cfg.now}, nil
}

// InsertBatch implements EventSink.
func (s *GormStore) InsertBatch(ctx context.Context, records []event.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]interactionEventRow, 0, len(records))
	for _, r := range records { //nolint:gocritic // rangeValCopy: records are values end to end
		row, err := eventRowFromRecord(r)
		if err != nil {
			return fmt.Errorf("%w: event %s: %w", ErrInvalidInput, r.EventID, err)
		}
		rows = append(rows, row)
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, s.batchSize).Error
	if err != nil {
		return fmt.Errorf("insert interaction events: %w", err)
	}
	return nil
}

// CountEvents returns the number of stored interaction events.
func (s *GormStore) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&interactionEventRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count interaction events: %w", err)
	}
	return n, nil
}

// CreateSession implements SessionStore. A new id is generated when s.ID is empty.
func (s *GormStore) CreateSession(ctx context.Context, gs GameSession) (string, error) {
	if strings.TrimSpace(gs.UserID) == "" || strings.TrimSpace(gs.GameID) == "" {
		return "", fmt.Errorf("%w: user_id and game_id are required", ErrInvalidInput)
	}
	if gs.ID == "" {
		gs.ID = uuid.NewString()
	}
	if gs.Status == "" {
		gs.Status = SessionInProgress
	}
	if gs.StartTime.IsZero() {
		gs.StartTime = s.now().UTC()
	}
	row := gameSessionRow{
		ID:               gs.ID,
		UserID:           gs.UserID,
		GameID:           gs.GameID,
		AssignmentID:     optional(gs.AssignmentID),
		Subject:          gs.Subject,
		SkillArea:        optional(gs.SkillArea),
		StartTime:        gs.StartTime,
		CompletionStatus: string(gs.Status),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create game session: %w", err)
	}
	return row.ID, nil
}

// UpdateSession implements SessionStore.
func (s *GormStore) UpdateSession(ctx context.Context, id string, u SessionUpdate) error {
	if u.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	end := u.EndTime
	if end.IsZero() {
		end = s.now().UTC()
	}
	updates := map[string]any{
		"completion_status": string(u.Status),
		"end_time":          end,
	}
	if u.DurationSeconds != nil {
		updates["duration_seconds"] = *u.DurationSeconds
	}
	if u.Score != nil {
		updates["score"] = *u.Score
	}
	for column, v := range map[string]any{
		"learning_objectives_met": u.LearningObjectivesMet,
		"engagement_metrics":      u.EngagementMetrics,
		"performance_data":        u.PerformanceData,
	} {
		if isEmpty(v) {
			continue
		}
		raw, err := encodeJSON(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidInput, column, err)
		}
		updates[column] = raw
	}

	res := s.db.WithContext(ctx).Model(&gameSessionRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update game session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: game session %s", ErrNotFound, id)
	}
	return nil
}

// GetSession implements SessionStore.
func (s *GormStore) GetSession(ctx context.Context, id string) (GameSession, error) {
	var row gameSessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return GameSession{}, fmt.Errorf("%w: game session %s", ErrNotFound, id)
		}
		return GameSession{}, fmt.Errorf("get game session: %w", err)
	}
	return row.toSession(), nil
}

// History implements SessionStore. Attempts counts finished sessions and
// SuccessRate is the share of them that were completed.
func (s *GormStore) History(ctx context.Context, userID, gameID string) (difficulty.History, error) {
	var counts []struct {
		CompletionStatus string
		N                int
	}
	err := s.db.WithContext(ctx).Model(&gameSessionRow{}).
		Select("completion_status, count(*) as n").
		Where("user_id = ? AND game_id = ? AND completion_status <> ?", userID, gameID, string(SessionInProgress)).
		Group("completion_status").
		Scan(&counts).Error
	if err != nil {
		return difficulty.History{}, fmt.Errorf("session history: %w", err)
	}

	var h difficulty.History
	completed := 0
	for _, c := range counts {
		h.Attempts += c.N
		if c.CompletionStatus == string(SessionCompleted) {
			completed += c.N
		}
	}
	if h.Attempts > 0 {
		h.SuccessRate = float64(completed) / float64(h.Attempts)
		h.Completed = completed > 0
	}
	return h, nil
}

// CreateAssignment implements AssignmentStore.
func (s *GormStore) CreateAssignment(ctx context.Context, a Assignment) (string, error) {
	if strings.TrimSpace(a.UserID) == "" || strings.TrimSpace(a.GameID) == "" {
		return "", fmt.Errorf("%w: user_id and game_id are required", ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AssignmentAssigned
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = s.now().UTC()
	}
	row := gameAssignmentRow{
		ID:          a.ID,
		UserID:      a.UserID,
		GameID:      a.GameID,
		Subject:     a.Subject,
		Status:      string(a.Status),
		AssignedAt:  a.AssignedAt,
		DueAt:       a.DueAt,
		CompletedAt: a.CompletedAt,
		Score:       a.Score,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create game assignment: %w", err)
	}
	return row.ID, nil
}

// CompleteAssignment implements AssignmentStore.
func (s *GormStore) CompleteAssignment(ctx context.Context, id string, score *float64, at time.Time) error {
	if at.IsZero() {
		at = s.now().UTC()
	}
	updates := map[string]any{
		"status":       string(AssignmentCompleted),
		"completed_at": at,
	}
	if score != nil {
		updates["score"] = *score
	}
	res := s.db.WithContext(ctx).Model(&gameAssignmentRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("complete game assignment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: game assignment %s", ErrNotFound, id)
	}
	return nil
}

// GetAssignment implements AssignmentStore.
func (s *GormStore) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	var row gameAssignmentRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Assignment{}, fmt.Errorf("%w: game assignment %s", ErrNotFound, id)
		}
		return Assignment{}, fmt.Errorf("get game assignment: %w", err)
	}
	return row.toAssignment(), nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return v == nil
	}
}
