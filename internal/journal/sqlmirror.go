package journal

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"statecraft/internal/logging"
)

// journalRow is the gorm model backing SQLJournalMirror. It stores Record's
// fields except InitialState (a created record's initial state is not
// mirrored), with whichever payload map the record carries (InitialData or
// EventData) flattened to JSON text in DataJSON, so a single table serves
// both record types — grounded on the teacher's
// pattern of storing agent step metadata as a JSON column.
type journalRow struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement:false"`
	Type      string `gorm:"index"`
	FSMID     string `gorm:"index"`
	TenantID  string `gorm:"index"`
	Module    string `gorm:"index"`
	Timestamp time.Time
	From      string
	To        string
	Event     string
	DataJSON  string
}

func (journalRow) TableName() string { return "journal_records" }

// SQLJournalMirror receives a best-effort copy of every journal append for
// SQL-queryable audit trails. It is never consulted for durability or
// ordering — the JSONL file remains authoritative — so every write here
// happens off the critical path and swallows its own errors after logging.
type SQLJournalMirror struct {
	db *gorm.DB
}

// NewSQLJournalMirror wraps an already-migrated *gorm.DB. Use
// cmd/migrate (or AutoMigrateSQLite for sqlite) to create the journal_records table
// before attaching.
func NewSQLJournalMirror(db *gorm.DB) *SQLJournalMirror {
	return &SQLJournalMirror{db: db}
}

// Append implements Mirror. It is called from a goroutine spawned by
// FileJournal.appendRecord and must not panic or block indefinitely.
func (s *SQLJournalMirror) Append(rec Record) {
	row := journalRow{
		Seq:       rec.Seq,
		Type:      string(rec.Type),
		FSMID:     rec.FSMID,
		TenantID:  rec.TenantID,
		Module:    rec.Module,
		Timestamp: rec.Timestamp,
		From:      rec.From,
		To:        rec.To,
		Event:     rec.Event,
	}

	payload := rec.InitialData
	if rec.Type == TypeTransition {
		payload = rec.EventData
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			row.DataJSON = string(b)
		}
	}

	if err := s.db.Create(&row).Error; err != nil {
		logging.L().Warn("journal sql mirror write failed",
			zap.Int64("seq", rec.Seq),
			zap.String("fsm_id", rec.FSMID),
			zap.Error(err),
		)
	}
}
