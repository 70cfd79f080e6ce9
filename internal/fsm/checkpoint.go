package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Checkpoint is a point-in-time snapshot of an instance's state and data,
// for fast warm-restart — independent of the Journal, which remains the
// durability source of truth. Grounded on the teacher's Checkpoint /
// CheckpointStore (internal/agents/core/state_machine.go), generalized
// from a hardcoded AgentState/StepIndex pair to an arbitrary Kind's State
// plus its data snapshot.
type Checkpoint struct {
	ID          string         `json:"id"`
	FSMID       string         `json:"fsm_id"`
	TenantID    string         `json:"tenant_id"`
	State       State          `json:"state"`
	Data        map[string]any `json:"data"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	Description string         `json:"description"`
}

// CheckpointStore persists and retrieves checkpoints. Never consulted by
// Navigate — only by an explicit replay/warm-restart path.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, id string) (*Checkpoint, error)
	ListByFSM(ctx context.Context, fsmID string) ([]*Checkpoint, error)
}

// Checkpointer is the optional checkpoint capability, wrapping one store.
// It is not attached to a Kind or an Instance: callers pass the instance to
// Checkpoint and Restore, and a checkpoint is taken only when requested.
type Checkpointer struct {
	store CheckpointStore
}

// NewCheckpointer wraps a store (SQLCheckpointStore or FileCheckpointStore).
func NewCheckpointer(store CheckpointStore) *Checkpointer {
	return &Checkpointer{store: store}
}

// Checkpoint snapshots i's current state/data and persists it, returning
// the new checkpoint's id.
func (c *Checkpointer) Checkpoint(ctx context.Context, i *Instance, description string) (string, error) {
	cp := &Checkpoint{
		ID:          uuid.NewString(),
		FSMID:       i.ID,
		TenantID:    i.TenantID,
		State:       i.CurrentState(),
		Data:        i.Snapshot(),
		Version:     i.Metadata.Version,
		CreatedAt:   time.Now(),
		Description: description,
	}
	if err := c.store.Save(ctx, cp); err != nil {
		return "", fmt.Errorf("checkpoint save: %w", err)
	}
	return cp.ID, nil
}

// Restore rehydrates an instance from a checkpoint. It does not go through
// Navigate — a restore is a direct data/state overwrite, used by explicit
// restore requests (cmd/statecraftd's checkpoint restore route).
func (c *Checkpointer) Restore(ctx context.Context, i *Instance, checkpointID string) error {
	cp, err := c.store.Get(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("checkpoint get: %w", err)
	}

	i.mu.Lock()
	i.setState(cp.State)
	i.data = make(map[string]any, len(cp.Data))
	for k, v := range cp.Data {
		i.data[k] = v
	}
	i.Metadata.Version = cp.Version
	i.Metadata.UpdatedAt = time.Now()
	i.mu.Unlock()

	return nil
}

// --- SQL-backed store (gorm) ---

type checkpointRow struct {
	ID          string `gorm:"primaryKey"`
	FSMID       string `gorm:"index"`
	TenantID    string `gorm:"index"`
	State       string
	DataJSON    string
	Version     int
	CreatedAt   time.Time
	Description string
}

func (checkpointRow) TableName() string { return "fsm_checkpoints" }

// SQLCheckpointStore persists checkpoints via gorm, sharing whichever
// DatabaseType (postgres or sqlite) the rest of the runtime is configured
// for.
type SQLCheckpointStore struct {
	db *gorm.DB
}

func NewSQLCheckpointStore(db *gorm.DB) *SQLCheckpointStore {
	return &SQLCheckpointStore{db: db}
}

// AutoMigrate creates/updates the checkpoints table.
func (s *SQLCheckpointStore) AutoMigrate() error {
	return s.db.AutoMigrate(&checkpointRow{})
}

func (s *SQLCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp.Data)
	if err != nil {
		return err
	}
	row := checkpointRow{
		ID:          cp.ID,
		FSMID:       cp.FSMID,
		TenantID:    cp.TenantID,
		State:       string(cp.State),
		DataJSON:    string(data),
		Version:     cp.Version,
		CreatedAt:   cp.CreatedAt,
		Description: cp.Description,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLCheckpointStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	var row checkpointRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return rowToCheckpoint(row)
}

func (s *SQLCheckpointStore) ListByFSM(ctx context.Context, fsmID string) ([]*Checkpoint, error) {
	var rows []checkpointRow
	if err := s.db.WithContext(ctx).Where("fsm_id = ?", fsmID).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(rows))
	for _, row := range rows {
		cp, err := rowToCheckpoint(row)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func rowToCheckpoint(row checkpointRow) (*Checkpoint, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(row.DataJSON), &data); err != nil {
		return nil, err
	}
	return &Checkpoint{
		ID:          row.ID,
		FSMID:       row.FSMID,
		TenantID:    row.TenantID,
		State:       State(row.State),
		Data:        data,
		Version:     row.Version,
		CreatedAt:   row.CreatedAt,
		Description: row.Description,
	}, nil
}

// --- file-based store (no database configured) ---

// FileCheckpointStore writes one JSON file per checkpoint under baseDir,
// for standalone deployments with no SQL mirror configured.
type FileCheckpointStore struct {
	baseDir string
}

func NewFileCheckpointStore(baseDir string) *FileCheckpointStore {
	return &FileCheckpointStore{baseDir: baseDir}
}

func (s *FileCheckpointStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *FileCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(cp.ID), data, 0o644)
}

func (s *FileCheckpointStore) Get(_ context.Context, id string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *FileCheckpointStore) ListByFSM(_ context.Context, fsmID string) ([]*Checkpoint, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Checkpoint
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		if cp.FSMID == fsmID {
			out = append(out, &cp)
		}
	}
	return out, nil
}
