package ota

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type fakeTransport struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	published    map[string][][]byte
	subErr       error
	pubErr       error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: make(map[string][][]byte)}
}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return f.subErr
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakeTransport) Connected() bool { return true }

type fakeWriter struct {
	buf         bytes.Buffer
	finalized   bool
	discarded   bool
	writeErr    error
	finalizeErr error
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Finalize() error {
	if w.finalizeErr != nil {
		return w.finalizeErr
	}
	w.finalized = true
	return nil
}

func (w *fakeWriter) Discard() error {
	w.discarded = true
	return nil
}

type fakeStorage struct {
	partitions [2]Partition
	running    int
	boot       int

	writers    []*fakeWriter
	setBoot    []Partition
	nextWriter *fakeWriter

	beginErr   error
	setBootErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		partitions: [2]Partition{
			{Label: "ota_0", Index: 0, Size: 1 << 20},
			{Label: "ota_1", Index: 1, Size: 1 << 20},
		},
	}
}

func (s *fakeStorage) Running() Partition { return s.partitions[s.running] }
func (s *fakeStorage) Boot() Partition    { return s.partitions[s.boot] }

func (s *fakeStorage) Next() (Partition, error) {
	return s.partitions[1-s.running], nil
}

func (s *fakeStorage) Begin(p Partition) (Writer, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	w := s.nextWriter
	if w == nil {
		w = &fakeWriter{}
	}
	s.nextWriter = nil
	s.writers = append(s.writers, w)
	return w, nil
}

func (s *fakeStorage) SetBoot(p Partition) error {
	if s.setBootErr != nil {
		return s.setBootErr
	}
	s.boot = p.Index
	s.setBoot = append(s.setBoot, p)
	return nil
}

func (s *fakeStorage) lastWriter() *fakeWriter {
	if len(s.writers) == 0 {
		return nil
	}
	return s.writers[len(s.writers)-1]
}

type finishedSession struct {
	session Session
	outcome Outcome
	cause   error
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []Session
	finished []finishedSession
}

func (r *fakeRecorder) SessionStarted(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s)
	return nil
}

func (r *fakeRecorder) SessionFinished(s Session, outcome Outcome, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, finishedSession{session: s, outcome: outcome, cause: cause})
	return nil
}

func (r *fakeRecorder) outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Outcome
	for _, f := range r.finished {
		out = append(out, f.outcome)
	}
	return out
}

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *fakeRestarter) Restart(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *fakeRestarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type failingCommitter struct{ err error }

func (c failingCommitter) Commit(ctx context.Context, req CommitRequest) error { return c.err }
