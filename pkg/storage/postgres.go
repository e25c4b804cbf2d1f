package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/policy"
)

// logModel is the gorm mapping of LogRecord.
type logModel struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)"`
	URL             string    `gorm:"type:varchar(1000);not null;default:''"`
	Hostname        string    `gorm:"type:varchar(255);not null;default:'';index"`
	Params          string    `gorm:"type:text;not null;default:''"`
	StatusCode      *int      `gorm:"type:int"`
	Method          string    `gorm:"type:varchar(10);not null;default:''"`
	ReqContentType  string    `gorm:"type:varchar(50);not null;default:''"`
	ResContentType  string    `gorm:"type:varchar(50);not null;default:''"`
	ReqHeaders      string    `gorm:"type:text"`
	ResHeaders      string    `gorm:"type:text"`
	ReqBody         []byte    `gorm:"type:bytea"`
	ResBody         []byte    `gorm:"type:bytea"`
	ReqBodyEncoding string    `gorm:"type:varchar(24);not null;default:''"`
	ResBodyEncoding string    `gorm:"type:varchar(24);not null;default:''"`
	ResponseMS      int64     `gorm:"column:response_ms;not null;default:0"`
	Timestamp       time.Time `gorm:"not null;index"`
	Trace           string    `gorm:"type:text"`
}

func (logModel) TableName() string { return "outgoing_requests_log" }

// configModel is the single policy row.
type configModel struct {
	ID               uint   `gorm:"primaryKey"`
	SaveToDB         string `gorm:"column:save_to_db;type:varchar(11);not null"`
	SaveBody         string `gorm:"type:varchar(11);not null"`
	MaxContentLength int64  `gorm:"not null"`
	ResetAfter       *int
}

func (configModel) TableName() string { return "outgoing_requests_log_config" }

const configRowID = 1

// PostgresStorage keeps records and the policy row in PostgreSQL through gorm.
type PostgresStorage struct {
	db *gorm.DB
}

// NewPostgresStorage connects to dsn and migrates the tables.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, newError("postgres", "open", err)
	}

	return NewPostgresStorageFromDB(db)
}

// NewPostgresStorageFromDB uses an existing gorm connection.
func NewPostgresStorageFromDB(db *gorm.DB) (*PostgresStorage, error) {
	if err := db.AutoMigrate(&logModel{}, &configModel{}); err != nil {
		return nil, newError("postgres", "migrate", err)
	}

	logging.L.Info("Postgres storage initialized", zap.String("dialect", db.Dialector.Name()))

	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Name() string { return "postgres" }

func (s *PostgresStorage) Store(ctx context.Context, r *LogRecord) error {
	m := toLogModel(r)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&m).Error
	})
	if err != nil {
		return newError(s.Name(), "store", err)
	}
	return nil
}

func (s *PostgresStorage) List(ctx context.Context, q Query) ([]*LogRecord, error) {
	tx := s.db.WithContext(ctx).Model(&logModel{})
	if q.Hostname != "" {
		tx = tx.Where("hostname = ?", q.Hostname)
	}
	if q.Method != "" {
		tx = tx.Where("method = ?", q.Method)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("timestamp < ?", q.Until.UTC())
	}

	var models []logModel
	if err := tx.Order("timestamp DESC").Limit(q.limit()).Offset(q.Offset).Find(&models).Error; err != nil {
		return nil, newError(s.Name(), "list", err)
	}

	records := make([]*LogRecord, 0, len(models))
	for i := range models {
		records = append(records, fromLogModel(&models[i]))
	}
	return records, nil
}

func (s *PostgresStorage) Get(ctx context.Context, id string) (*LogRecord, error) {
	var m logModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newError(s.Name(), "get", err)
	}
	return fromLogModel(&m), nil
}

func (s *PostgresStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff.UTC()).Delete(&logModel{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, newError(s.Name(), "delete", err)
	}
	return deleted, nil
}

func (s *PostgresStorage) LoadPolicy(ctx context.Context) (policy.Policy, bool, error) {
	var m configModel
	err := s.db.WithContext(ctx).First(&m, configRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return policy.Policy{}, false, nil
	}
	if err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}

	p, err := m.toPolicy()
	if err != nil {
		return policy.Policy{}, false, newError(s.Name(), "load_policy", err)
	}
	return p, true, nil
}

func (s *PostgresStorage) SavePolicy(ctx context.Context, p policy.Policy) error {
	m := configModel{
		ID:               configRowID,
		SaveToDB:         p.SaveToDB.String(),
		SaveBody:         p.SaveBody.String(),
		MaxContentLength: p.MaxContentLength,
		ResetAfter:       p.ResetAfter,
	}

	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return newError(s.Name(), "save_policy", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return newError(s.Name(), "close", err)
	}
	return sqlDB.Close()
}

func (m configModel) toPolicy() (policy.Policy, error) {
	p := policy.Policy{MaxContentLength: m.MaxContentLength, ResetAfter: m.ResetAfter}
	if err := p.SaveToDB.UnmarshalText([]byte(m.SaveToDB)); err != nil {
		return p, err
	}
	if err := p.SaveBody.UnmarshalText([]byte(m.SaveBody)); err != nil {
		return p, err
	}
	return p, nil
}

func toLogModel(r *LogRecord) logModel {
	return logModel{
		ID:              r.ID,
		URL:             r.URL,
		Hostname:        r.Hostname,
		Params:          r.Params,
		StatusCode:      r.StatusCode,
		Method:          r.Method,
		ReqContentType:  r.ReqContentType,
		ResContentType:  r.ResContentType,
		ReqHeaders:      r.ReqHeaders,
		ResHeaders:      r.ResHeaders,
		ReqBody:         nonNil(r.ReqBody),
		ResBody:         nonNil(r.ResBody),
		ReqBodyEncoding: r.ReqBodyEncoding,
		ResBodyEncoding: r.ResBodyEncoding,
		ResponseMS:      r.ResponseMS,
		Timestamp:       r.Timestamp.UTC(),
		Trace:           r.Trace,
	}
}

func fromLogModel(m *logModel) *LogRecord {
	r := &LogRecord{
		ID:              m.ID,
		URL:             m.URL,
		Hostname:        m.Hostname,
		Params:          m.Params,
		StatusCode:      m.StatusCode,
		Method:          m.Method,
		ReqContentType:  m.ReqContentType,
		ResContentType:  m.ResContentType,
		ReqHeaders:      m.ReqHeaders,
		ResHeaders:      m.ResHeaders,
		ReqBody:         m.ReqBody,
		ResBody:         m.ResBody,
		ReqBodyEncoding: m.ReqBodyEncoding,
		ResBodyEncoding: m.ResBodyEncoding,
		ResponseMS:      m.ResponseMS,
		Timestamp:       m.Timestamp,
		Trace:           m.Trace,
	}
	return r.normalize()
}
