// Package flash implements A/B firmware partitions backed by files in a
// directory: ota_0.bin, ota_1.bin and an otadata.json boot selector.
package flash

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
)

// DefaultPartitionSize matches a 1.5MB app partition.
const DefaultPartitionSize = 0x180000

const otadataFile = "otadata.json"

type otadata struct {
	Boot     int    `json:"boot"`
	Sequence uint32 `json:"seq"`
}

// Store is the partition table of the device.
type Store struct {
	dir        string
	partitions [2]ota.Partition

	mu      sync.Mutex
	running int
	data    otadata
}

// Open loads the partition table in dir, creating it on first use. The boot
// selection at open time is taken as the running partition.
func Open(dir string, size int64) (*Store, error) {
	if size <= 0 {
		size = DefaultPartitionSize
	}
	slog.Info("flash_open", "dir", dir, "partition_size", size)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create flash directory")
	}

	s := &Store{dir: dir}
	for i := range s.partitions {
		s.partitions[i] = ota.Partition{Label: fmt.Sprintf("ota_%d", i), Index: i, Size: size}
		f, err := os.OpenFile(s.path(s.partitions[i]), os.O_CREATE|os.O_RDONLY, 0644)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create partition %s", s.partitions[i].Label)
		}
		f.Close()
	}

	raw, err := os.ReadFile(filepath.Join(dir, otadataFile))
	switch {
	case os.IsNotExist(err):
		if err := s.writeOtadata(otadata{Boot: 0}); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrap(err, "failed to read otadata")
	default:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, errors.Wrap(err, "failed to decode otadata")
		}
		if s.data.Boot < 0 || s.data.Boot >= len(s.partitions) {
			slog.Warn("flash_otadata_invalid", "boot", s.data.Boot)
			s.data.Boot = 0
		}
	}

	s.running = s.data.Boot
	slog.Info("flash_ready", "running", s.partitions[s.running].Label, "seq", s.data.Sequence)
	return s, nil
}

// Running implements ota.Storage.
func (s *Store) Running() ota.Partition {
	return s.partitions[s.running]
}

// Boot implements ota.Storage.
func (s *Store) Boot() ota.Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitions[s.data.Boot]
}

// Next implements ota.Storage.
func (s *Store) Next() (ota.Partition, error) {
	return s.partitions[(s.running+1)%len(s.partitions)], nil
}

// Begin implements ota.Storage. The partition file is truncated and may grow
// up to the partition size.
func (s *Store) Begin(p ota.Partition) (ota.Writer, error) {
	if err := s.check(p); err != nil {
		return nil, err
	}
	if p.Index == s.running {
		return nil, fmt.Errorf("partition %s is running", p.Label)
	}

	f, err := os.OpenFile(s.path(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		slog.Error("flash_begin_failed", "partition", p.Label, "error", err)
		return nil, errors.Wrapf(err, "failed to open partition %s", p.Label)
	}

	slog.Info("flash_begin", "partition", p.Label, "capacity", p.Size)
	return &writer{f: f, partition: p}, nil
}

// SetBoot implements ota.Storage. The selector is replaced atomically.
func (s *Store) SetBoot(p ota.Partition) error {
	if err := s.check(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := otadata{Boot: p.Index, Sequence: s.data.Sequence + 1}
	if err := s.writeOtadata(next); err != nil {
		return err
	}

	slog.Info("flash_boot_selected", "partition", p.Label, "seq", next.Sequence)
	return nil
}

// PartitionInfo describes one partition for display.
type PartitionInfo struct {
	ota.Partition
	ImageBytes int64
	Running    bool
	Boot       bool
}

// Partitions lists the partition table.
func (s *Store) Partitions() ([]PartitionInfo, error) {
	boot := s.Boot()

	infos := make([]PartitionInfo, 0, len(s.partitions))
	for _, p := range s.partitions {
		st, err := os.Stat(s.path(p))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat partition %s", p.Label)
		}
		infos = append(infos, PartitionInfo{
			Partition:  p,
			ImageBytes: st.Size(),
			Running:    p.Index == s.running,
			Boot:       p.Index == boot.Index,
		})
	}
	return infos, nil
}

func (s *Store) check(p ota.Partition) error {
	if p.Index < 0 || p.Index >= len(s.partitions) || s.partitions[p.Index].Label != p.Label {
		return fmt.Errorf("unknown partition %q", p.Label)
	}
	return nil
}

func (s *Store) path(p ota.Partition) string {
	return filepath.Join(s.dir, p.Label+".bin")
}

// writeOtadata must be called with s.mu held or before the store is shared.
func (s *Store) writeOtadata(d otadata) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "failed to encode otadata")
	}

	final := filepath.Join(s.dir, otadataFile)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return errors.Wrap(err, "failed to write otadata")
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "failed to replace otadata")
	}

	s.data = d
	return nil
}

type writer struct {
	f         *os.File
	partition ota.Partition
	written   int64
	closed    bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("partition %s writer is closed", w.partition.Label)
	}
	if w.written+int64(len(p)) > w.partition.Size {
		return 0, fmt.Errorf("partition %s full: %d+%d exceeds %d", w.partition.Label, w.written, len(p), w.partition.Size)
	}

	n, err := w.f.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *writer) Finalize() error {
	if w.closed {
		return fmt.Errorf("partition %s writer is closed", w.partition.Label)
	}
	w.closed = true

	if w.written == 0 {
		w.f.Close()
		return fmt.Errorf("partition %s: empty image", w.partition.Label)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return errors.Wrap(err, "failed to sync partition")
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "failed to close partition")
	}

	slog.Info("flash_finalized", "partition", w.partition.Label, "bytes", w.written)
	return nil
}

func (w *writer) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true

	slog.Info("flash_discarded", "partition", w.partition.Label, "bytes", w.written)
	return w.f.Close()
}
