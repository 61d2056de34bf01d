package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"churnboard/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 61442107

// GormStore implements RecordStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&RecordModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// Rows left PENDING by a crashed worker carry no job anymore.
		if err := tx.Exec(`
			UPDATE employee_churn
			SET processing_status = 'FAILED', employee_id = 'ERROR',
			    exit_reason = 'extraction interrupted', updated_at = NOW()
			WHERE processing_status = 'PENDING'
			  AND upload_timestamp < NOW() - INTERVAL '1 day';
		`).Error; err != nil {
			return fmt.Errorf("expire stale pending rows: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreatePending inserts a placeholder row for an upload awaiting extraction.
func (s *GormStore) CreatePending(sourceFile, objectKey string) (domain.Record, error) {
	model := RecordModel{
		EmployeeID:       PendingEmployeeID,
		SourceFile:       sourceFile,
		ObjectKey:        objectKey,
		ProcessingStatus: string(domain.StatusPending),
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Record{}, err
	}
	return recordFromModel(model), nil
}

// GetSource returns where the original of a record is stored.
func (s *GormStore) GetSource(id int64) (Source, bool, error) {
	var m RecordModel
	err := s.db.Select("id", "source_file", "object_key").First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Source{}, false, nil
	}
	if err != nil {
		return Source{}, false, err
	}
	return Source{RecordID: m.ID, SourceFile: m.SourceFile, ObjectKey: m.ObjectKey}, true, nil
}

// CompleteExtraction fills a record from its extracted profile.
func (s *GormStore) CompleteExtraction(id int64, ext domain.Extraction, raw []byte) error {
	updates := map[string]any{
		"employee_id":             ext.EmployeeID,
		"department":              ext.Department,
		"joining_date":            dateValue(ext.JoiningDate),
		"exit_date":               dateValue(ext.ExitDate),
		"exit_reason":             ext.ExitReason,
		"salary":                  ext.Salary,
		"last_performance_rating": ext.LastPerformanceRating,
		"churn_flag":              ext.ChurnFlag,
		"processing_status":       string(domain.StatusCompleted),
	}
	if len(raw) > 0 {
		updates["extracted"] = datatypes.JSON(raw)
	}
	return s.db.Model(&RecordModel{}).Where("id = ?", id).Updates(updates).Error
}

// FailExtraction marks a record as failed and keeps the reason in exit_reason.
func (s *GormStore) FailExtraction(id int64, reason string) error {
	reason = TruncateReason(reason)
	return s.db.Model(&RecordModel{}).Where("id = ?", id).Updates(map[string]any{
		"employee_id":       ErrorEmployeeID,
		"exit_reason":       reason,
		"processing_status": string(domain.StatusFailed),
	}).Error
}

// ListRecords returns all records ordered by id.
func (s *GormStore) ListRecords() ([]domain.Record, error) {
	var models []RecordModel
	if err := s.db.Order("id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(models))
	for _, m := range models {
		out = append(out, recordFromModel(m))
	}
	return out, nil
}

// GetRecord fetches a record by id.
func (s *GormStore) GetRecord(id int64) (domain.Record, bool, error) {
	var m RecordModel
	err := s.db.First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return recordFromModel(m), true, nil
}

// UpdateRecord writes the set fields of patch. It reports false when the
// record does not exist.
func (s *GormStore) UpdateRecord(id int64, patch domain.RecordPatch) (bool, error) {
	updates := patchUpdates(patch)
	if len(updates) == 0 {
		var count int64
		if err := s.db.Model(&RecordModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, err
		}
		return count > 0, nil
	}
	res := s.db.Model(&RecordModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteRecord removes a record. It reports false when nothing was deleted.
func (s *GormStore) DeleteRecord(id int64) (bool, error) {
	res := s.db.Delete(&RecordModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func patchUpdates(p domain.RecordPatch) map[string]any {
	updates := map[string]any{}
	if p.EmployeeID.Set && p.EmployeeID.Value != nil {
		updates["employee_id"] = *p.EmployeeID.Value
	}
	if p.Department.Set {
		updates["department"] = p.Department.Value
	}
	if p.ExitReason.Set {
		updates["exit_reason"] = p.ExitReason.Value
	}
	if p.Salary.Set {
		updates["salary"] = p.Salary.Value
	}
	return updates
}

func dateValue(d *domain.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func dateFromTime(t *time.Time) *domain.Date {
	if t == nil {
		return nil
	}
	d := domain.NewDate(*t)
	return &d
}

func recordFromModel(m RecordModel) domain.Record {
	return domain.Record{
		ID:                    m.ID,
		EmployeeID:            m.EmployeeID,
		Department:            m.Department,
		JoiningDate:           dateFromTime(m.JoiningDate),
		ExitDate:              dateFromTime(m.ExitDate),
		ExitReason:            m.ExitReason,
		Salary:                m.Salary,
		LastPerformanceRating: m.LastPerformanceRating,
		ChurnFlag:             m.ChurnFlag,
		SourceFile:            m.SourceFile,
		UploadTimestamp:       m.UploadTimestamp,
		ProcessingStatus:      domain.ProcessingStatus(m.ProcessingStatus),
	}
}
