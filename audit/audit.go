package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"lendledger/core/events"
)

// ErrDSNRequired is returned when the audit database DSN is missing.
var ErrDSNRequired = errors.New("audit: database dsn must be configured")

// Record is one row of the audit trail. Every committed ledger mutation lands
// here carrying the sequence the engine assigned to it, so the table doubles
// as a replayable history of the deployment.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// AutoMigrate performs the schema migrations for the audit trail.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Open connects to the audit database and applies migrations. Supported
// drivers are "sqlite" (the dev and test default) and "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return db, nil
}

// Recorder persists emitted events as audit rows. It satisfies
// events.Emitter so it can sit in the engine fan-out next to the metrics and
// stream sinks.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder wraps a database handle opened with Open.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Emit implements the events.Emitter interface. Write failures are logged
// and dropped; the ledger commit they describe has already happened.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || r.db == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		slog.Error("audit: encode attributes", "error", err, "type", payload.Type, "sequence", payload.Sequence)
		return
	}
	record := Record{
		ID:         uuid.New(),
		Sequence:   payload.Sequence,
		Type:       payload.Type,
		Attributes: string(attrs),
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.Create(&record).Error; err != nil {
		slog.Error("audit: record event", "error", err, "type", payload.Type, "sequence", payload.Sequence)
	}
}
