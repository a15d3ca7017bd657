// Package snapshot serializes the full state for fast sync: periodic and
// epoch-aligned gzip archives with SHA-256 sidecars, retention pruning and
// verified load.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hashborn/computechain/src/common"
	"github.com/hashborn/computechain/src/crypto"
	"github.com/hashborn/computechain/src/state"
	"github.com/hashborn/computechain/src/types"
)

// Snapshot is the archived unit: the full state content pinned to a chain
// position.
type Snapshot struct {
	Version   uint32
	NetworkID string
	Height    uint64
	TipHash   []byte
	Epoch     uint64
	Content   *state.Content
}

// snapshotVersion guards the archive format.
const snapshotVersion uint32 = 1

// Info describes an on-disk snapshot without loading it.
type Info struct {
	Height uint64 `json:"height"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// Manager owns the snapshots directory.
type Manager struct {
	l sync.Mutex

	dir       string
	networkID string
	keep      int
	logger    *logrus.Entry
}

// NewManager ...
func NewManager(dir, networkID string, keep int, logger *logrus.Entry) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, common.NewError(common.Storage, "snapshots dir: %v", err)
	}
	if keep <= 0 {
		keep = 10
	}
	return &Manager{
		dir:       dir,
		networkID: networkID,
		keep:      keep,
		logger:    logger.WithField("prefix", "snapshot"),
	}, nil
}

func (m *Manager) path(height uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("snapshot_%012d.cbor.gz", height))
}

func (m *Manager) sidecarPath(height uint64) string {
	return m.path(height) + ".sha256"
}

// Create archives the state content at the given chain position, writes
// the digest sidecar and prunes old snapshots.
func (m *Manager) Create(content *state.Content, height uint64, tipHash []byte) error {
	m.l.Lock()
	defer m.l.Unlock()

	snap := &Snapshot{
		Version:   snapshotVersion,
		NetworkID: m.networkID,
		Height:    height,
		TipHash:   append([]byte(nil), tipHash...),
		Epoch:     content.Epoch,
		Content:   content,
	}

	raw, err := types.Encode(snap)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if _, err := zw.Write(raw); err != nil {
		return common.NewError(common.Storage, "compress snapshot: %v", err)
	}
	if err := zw.Close(); err != nil {
		return common.NewError(common.Storage, "compress snapshot: %v", err)
	}

	// The digest covers the compressed archive, which is the artifact that
	// travels.
	digest := hex.EncodeToString(crypto.SHA256(buf.Bytes()))

	tmp := m.path(height) + ".tmp"
	if err := ioutil.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return common.NewError(common.Storage, "write snapshot: %v", err)
	}
	if err := os.Rename(tmp, m.path(height)); err != nil {
		return common.NewError(common.Storage, "write snapshot: %v", err)
	}
	if err := ioutil.WriteFile(m.sidecarPath(height), []byte(digest+"\n"), 0644); err != nil {
		return common.NewError(common.Storage, "write sidecar: %v", err)
	}

	m.logger.WithFields(logrus.Fields{
		"height": height,
		"bytes":  buf.Len(),
	}).Info("Snapshot created")

	m.pruneLocked()
	return nil
}

// Load reads, verifies and decodes the snapshot at a height.
func (m *Manager) Load(height uint64) (*Snapshot, error) {
	m.l.Lock()
	defer m.l.Unlock()

	compressed, err := ioutil.ReadFile(m.path(height))
	if err != nil {
		return nil, common.NewError(common.Storage, "snapshot %d: %v", height, err)
	}

	sidecar, err := ioutil.ReadFile(m.sidecarPath(height))
	if err != nil {
		return nil, common.NewError(common.Storage, "snapshot %d sidecar: %v", height, err)
	}

	digest := hex.EncodeToString(crypto.SHA256(compressed))
	if digest != strings.TrimSpace(string(sidecar)) {
		return nil, common.NewError(common.Malformed, "snapshot %d: digest mismatch", height)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, common.NewError(common.Malformed, "snapshot %d: %v", height, err)
	}
	raw, err := ioutil.ReadAll(zr)
	if err != nil {
		return nil, common.NewError(common.Malformed, "snapshot %d: %v", height, err)
	}

	var snap Snapshot
	if err := types.Decode(raw, &snap); err != nil {
		return nil, err
	}

	if snap.Version != snapshotVersion {
		return nil, common.NewError(common.Malformed, "snapshot %d: version %d", height, snap.Version)
	}
	if snap.NetworkID != m.networkID {
		return nil, common.NewError(common.GenesisMismatch, "snapshot %d: network %s", height, snap.NetworkID)
	}
	if snap.Height != height {
		return nil, common.NewError(common.Malformed, "snapshot %d: claims height %d", height, snap.Height)
	}

	return &snap, nil
}

// List returns the available snapshots, oldest first.
func (m *Manager) List() ([]Info, error) {
	m.l.Lock()
	defer m.l.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() ([]Info, error) {
	entries, err := ioutil.ReadDir(m.dir)
	if err != nil {
		return nil, common.NewError(common.Storage, "snapshots dir: %v", err)
	}

	var infos []Info
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".cbor.gz") {
			continue
		}
		var height uint64
		if _, err := fmt.Sscanf(name, "snapshot_%012d.cbor.gz", &height); err != nil {
			continue
		}
		info := Info{Height: height, Size: e.Size()}
		if sc, err := ioutil.ReadFile(filepath.Join(m.dir, name+".sha256")); err == nil {
			info.Digest = strings.TrimSpace(string(sc))
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Height < infos[j].Height })
	return infos, nil
}

// Latest returns the newest snapshot height, or 0 if none exist.
func (m *Manager) Latest() uint64 {
	infos, err := m.List()
	if err != nil || len(infos) == 0 {
		return 0
	}
	return infos[len(infos)-1].Height
}

// pruneLocked removes everything beyond the retention window.
func (m *Manager) pruneLocked() {
	infos, err := m.listLocked()
	if err != nil || len(infos) <= m.keep {
		return
	}

	for _, info := range infos[:len(infos)-m.keep] {
		os.Remove(m.path(info.Height))
		os.Remove(m.sidecarPath(info.Height))
		m.logger.WithField("height", info.Height).Debug("Pruned snapshot")
	}
}
