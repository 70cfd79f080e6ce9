package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"statecraft/internal/fsm"
)

// snapshot is the on-disk instance snapshot shape from §6 — a full
// serialization of the FsmInstance minus runtime-only fields like
// subscribers.
type snapshot struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	TenantID    string                 `json:"tenant_id"`
	State       string                 `json:"state"`
	Data        map[string]any         `json:"data"`
	Metadata    fsm.Metadata           `json:"metadata"`
	Performance fsm.Performance        `json:"performance"`
}

var unsafeRunes = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func sanitize(s string) string {
	s = unsafeRunes.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func snapshotPath(baseDir, tenantID, moduleShortName, fsmID string) string {
	tenant := tenantID
	if tenant == "" {
		tenant = "no_tenant"
	}
	return filepath.Join(baseDir, sanitize(tenant), "fsm", sanitize(moduleShortName), sanitize(fsmID)+".json")
}

// WriteSnapshot serializes i to its §6 snapshot path, using write-then-
// rename so a reader never observes a partial file.
func WriteSnapshot(baseDir string, i *fsm.Instance) error {
	path := snapshotPath(baseDir, i.TenantID, i.Kind.ModuleShortName(), i.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	snap := snapshot{
		ID:          i.ID,
		Kind:        i.Kind.Name,
		TenantID:    i.TenantID,
		State:       string(i.CurrentState()),
		Data:        i.Snapshot(),
		Metadata:    i.Metadata,
		Performance: i.Performance,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReloadFromDisk walks baseDir's snapshot tree and re-registers one
// instance per snapshot found, resolving each snapshot's kind name against
// kinds. Snapshots naming an unregistered kind are skipped — module
// discovery must run before reload for a clean rehydration. Per §4.6, this
// never replays the Journal; it only restores the last-written snapshot.
func (r *Registry) ReloadFromDisk(baseDir string, kinds map[string]*fsm.Kind) (int, error) {
	restored := 0
	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".json") || !strings.Contains(filepath.ToSlash(path), "/fsm/") {
			return nil
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var snap snapshot
		if jerr := json.Unmarshal(data, &snap); jerr != nil {
			return nil
		}

		k, ok := kinds[snap.Kind]
		if !ok {
			return nil
		}

		i := fsm.Restore(k, snap.ID, snap.TenantID, fsm.State(snap.State), snap.Data, snap.Metadata, snap.Performance)
		r.Register(i)
		restored++
		return nil
	})
	return restored, err
}
