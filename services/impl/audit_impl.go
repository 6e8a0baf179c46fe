package impl

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// auditWriter is the persistence seam behind the async sink. Production
// uses gorm; tests inject a recorder.
type auditWriter interface {
	WriteEvent(ctx context.Context, event *models.AuditEvent) error
}

// gormAuditWriter persists the parent log row and its typed extension in
// one transaction.
type gormAuditWriter struct {
	db *gorm.DB
}

func (w *gormAuditWriter) WriteEvent(ctx context.Context, event *models.AuditEvent) error {
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event.Log).Error; err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		if event.Query != nil {
			if err := tx.Create(event.Query).Error; err != nil {
				return fmt.Errorf("failed to write query audit: %w", err)
			}
		}
		if event.Auth != nil {
			if err := tx.Create(event.Auth).Error; err != nil {
				return fmt.Errorf("failed to write auth audit: %w", err)
			}
		}
		if event.Modification != nil {
			if err := tx.Create(event.Modification).Error; err != nil {
				return fmt.Errorf("failed to write modification audit: %w", err)
			}
		}
		return nil
	})
}

// auditServiceImpl fans events into a bounded buffer drained by a fixed
// worker pool. Enqueue waits at most the configured timeout; past that
// the event is dropped and the caller learns via ErrAuditSaturated.
type auditServiceImpl struct {
	db             *gorm.DB
	writer         auditWriter
	events         chan *models.AuditEvent
	enqueueTimeout time.Duration
	writeTimeout   time.Duration

	wg       sync.WaitGroup
	mu       sync.RWMutex
	shutdown bool
}

func NewAuditService(db *gorm.DB, cfg *config.AuditConfig) services.AuditService {
	return newAuditService(db, &gormAuditWriter{db: db}, cfg)
}

func newAuditService(db *gorm.DB, writer auditWriter, cfg *config.AuditConfig) *auditServiceImpl {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	s := &auditServiceImpl{
		db:             db,
		writer:         writer,
		events:         make(chan *models.AuditEvent, cfg.BufferSize),
		enqueueTimeout: time.Duration(cfg.EnqueueTimeoutMs) * time.Millisecond,
		writeTimeout:   30 * time.Second,
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *auditServiceImpl) worker() {
	defer s.wg.Done()
	for event := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.writer.WriteEvent(ctx, event); err != nil {
			// The audit trail must never take the request path down with
			// it. Failed writes are logged and dropped.
			log.Printf("audit write failed for %s/%s: %v", event.Log.Category, event.Log.Action, err)
		}
		cancel()
	}
}

// Log stamps identity, timestamp and retention, then enqueues. The
// returned ID is valid even when the write has not landed yet.
func (s *auditServiceImpl) Log(event *models.AuditEvent) (uuid.UUID, error) {
	if event.Log.ID == uuid.Nil {
		event.Log.ID = uuid.New()
	}
	if event.Log.Timestamp.IsZero() {
		event.Log.Timestamp = time.Now().UTC()
	}
	if event.Log.RetentionYears == 0 {
		event.Log.RetentionYears = retentionFor(event.Log.Classification)
	}
	stampExtensions(event)

	// The read lock covers the send so Shutdown cannot close the channel
	// underneath an in-flight enqueue.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shutdown {
		return event.Log.ID, fmt.Errorf("audit sink is shut down: %w", models.ErrAuditSaturated)
	}

	timer := time.NewTimer(s.enqueueTimeout)
	defer timer.Stop()
	select {
	case s.events <- event:
		return event.Log.ID, nil
	case <-timer.C:
		return event.Log.ID, models.ErrAuditSaturated
	}
}

func stampExtensions(event *models.AuditEvent) {
	if event.Query != nil {
		if event.Query.ID == uuid.Nil {
			event.Query.ID = uuid.New()
		}
		event.Query.AuditLogID = event.Log.ID
	}
	if event.Auth != nil {
		if event.Auth.ID == uuid.Nil {
			event.Auth.ID = uuid.New()
		}
		event.Auth.AuditLogID = event.Log.ID
	}
	if event.Modification != nil {
		if event.Modification.ID == uuid.Nil {
			event.Modification.ID = uuid.New()
		}
		event.Modification.AuditLogID = event.Log.ID
	}
}

// retentionFor maps a record's classification to its retention window.
// Events with no access context keep the confidential default.
func retentionFor(classification models.Classification) int {
	if classification.Valid() {
		return classification.RetentionYears()
	}
	return models.ClassificationConfidential.RetentionYears()
}

func (s *auditServiceImpl) complianceQuery(ctx context.Context, filter services.AuditQueryFilter) *gorm.DB {
	q := s.db.WithContext(ctx).
		Where("tenant_id = ?", filter.TenantID).
		Order("timestamp DESC")
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp <= ?", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return q.Limit(limit)
}

func (s *auditServiceImpl) UserActivity(ctx context.Context, filter services.AuditQueryFilter) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.complianceQuery(ctx, filter).Find(&logs).Error
	return logs, err
}

func (s *auditServiceImpl) PIIAccessEvents(ctx context.Context, filter services.AuditQueryFilter) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.complianceQuery(ctx, filter).
		Where("pii_accessed = ?", true).
		Find(&logs).Error
	return logs, err
}

func (s *auditServiceImpl) FailedAccessAttempts(ctx context.Context, filter services.AuditQueryFilter) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.complianceQuery(ctx, filter).
		Where("outcome = ? AND category IN ?", models.AuditOutcomeFailure,
			[]models.AuditCategory{models.AuditCategoryAuth, models.AuditCategoryAuthz}).
		Find(&logs).Error
	return logs, err
}

func (s *auditServiceImpl) ModificationHistory(ctx context.Context, tableName, recordID string, limit int) ([]models.ModificationAudit, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []models.ModificationAudit
	err := s.db.WithContext(ctx).
		Joins("JOIN audit_logs ON audit_logs.id = modification_audit.audit_log_id").
		Where("modification_audit.table_name = ? AND modification_audit.record_id = ?", tableName, recordID).
		Order("audit_logs.timestamp DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Archive marks rows whose retention window has elapsed relative to
// cutoff. Rows are never deleted here; archival is a flag flip.
func (s *auditServiceImpl) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.AuditLog{}).
		Where("archived = ? AND timestamp + (retention_years * interval '1 year') <= ?", false, cutoff).
		Update("archived", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to archive audit logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Shutdown stops accepting events, then waits for the workers to drain
// the buffer or for ctx to expire, whichever comes first.
func (s *auditServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	close(s.events)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit sink drain interrupted: %w", ctx.Err())
	}
}
