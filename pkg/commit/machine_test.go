package commit

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superfly/fsm"
)

var target = ota.Partition{Label: "ota_1", Index: 1, Size: 1024}

type fakeStorage struct {
	boot       ota.Partition
	setBootErr error
}

func (s *fakeStorage) Running() ota.Partition       { return ota.Partition{Label: "ota_0"} }
func (s *fakeStorage) Boot() ota.Partition          { return s.boot }
func (s *fakeStorage) Next() (ota.Partition, error) { return target, nil }
func (s *fakeStorage) Begin(ota.Partition) (ota.Writer, error) {
	return nil, stderrors.New("not supported")
}

func (s *fakeStorage) SetBoot(p ota.Partition) error {
	if s.setBootErr != nil {
		return s.setBootErr
	}
	s.boot = p
	return nil
}

type fakeWriter struct {
	finalizeErr error
	finalized   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *fakeWriter) Discard() error              { return nil }
func (w *fakeWriter) Finalize() error {
	if w.finalizeErr != nil {
		return w.finalizeErr
	}
	w.finalized = true
	return nil
}

func newRequest(sessionID string) *fsm.Request[Request, Response] {
	return fsm.NewRequest(&Request{SessionID: sessionID, Partition: target, Checksum: 0x0d4a1185, Bytes: 11}, &Response{})
}

func TestMachine_HappyPath(t *testing.T) {
	ctx := context.Background()
	storage := &fakeStorage{boot: ota.Partition{Label: "ota_0"}}
	m := NewMachine(storage)
	w := &fakeWriter{}
	m.track("s-1", w)

	resp, err := m.handleFinalize(ctx, newRequest("s-1"))
	require.NoError(t, err)
	assert.True(t, resp.Msg.Finalized)
	assert.True(t, w.finalized)

	req := newRequest("s-1")
	resp, err = m.handleActivate(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Msg.Activated)
	assert.Equal(t, "ota_1", storage.boot.Label)

	resp, err = m.handleComplete(ctx, newRequest("s-1"))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, resp.Msg.Status)

	assert.NoError(t, m.release("s-1"))
}

func TestMachine_Failures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func(m *Machine) error
		storage *fakeStorage
		writer  *fakeWriter
	}{
		{
			name:    "finalize without writer",
			storage: &fakeStorage{},
			run: func(m *Machine) error {
				_, err := m.handleFinalize(ctx, newRequest("s-1"))
				return err
			},
		},
		{
			name:    "finalize error",
			storage: &fakeStorage{},
			writer:  &fakeWriter{finalizeErr: stderrors.New("fsync: input/output error")},
			run: func(m *Machine) error {
				_, err := m.handleFinalize(ctx, newRequest("s-1"))
				return err
			},
		},
		{
			name:    "set boot error",
			storage: &fakeStorage{setBootErr: stderrors.New("otadata read-only")},
			writer:  &fakeWriter{},
			run: func(m *Machine) error {
				_, err := m.handleActivate(ctx, newRequest("s-1"))
				return err
			},
		},
		{
			name:    "boot selector not updated",
			storage: &fakeStorage{boot: ota.Partition{Label: "ota_0"}},
			writer:  &fakeWriter{},
			run: func(m *Machine) error {
				_, err := m.handleComplete(ctx, newRequest("s-1"))
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(tt.storage)
			if tt.writer != nil {
				m.track("s-1", tt.writer)
			}

			assert.Error(t, tt.run(m))

			failure := m.release("s-1")
			require.Error(t, failure)
			assert.True(t, errors.Is(failure, errors.ErrStorage))
		})
	}
}
