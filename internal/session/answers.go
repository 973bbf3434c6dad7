package session

import (
	"context"
	"errors"
	"sync"

	"github.com/stemsi/exstem-lms/internal/model"
	"golang.org/x/sync/errgroup"
)

const maxParallelFileOps = 4

// AnswerStore is the in-memory answer map of a session. It does not validate
// shapes against question types; callers do that where the type is known.
type AnswerStore struct {
	mu       sync.RWMutex
	answers  model.AnswerMap
	onChange func()
}

// NewAnswerStore creates a store seeded with a copy of initial.
func NewAnswerStore(initial model.AnswerMap) *AnswerStore {
	s := &AnswerStore{}
	s.Load(initial)
	return s
}

// OnChange registers the callback run after every mutation.
func (s *AnswerStore) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Load replaces the whole map without firing OnChange.
func (s *AnswerStore) Load(answers model.AnswerMap) {
	s.mu.Lock()
	s.answers = answers.Clone()
	s.mu.Unlock()
}

// Set inserts or replaces the answer for qid. A nil answer clears it.
func (s *AnswerStore) Set(qid string, a model.Answer) {
	if a == nil {
		s.Clear(qid)
		return
	}

	s.mu.Lock()
	s.answers[qid] = model.CloneAnswer(a)
	s.mu.Unlock()
	s.notify()
}

// Clear removes qid entirely; absence is the canonical unanswered state.
func (s *AnswerStore) Clear(qid string) {
	s.mu.Lock()
	delete(s.answers, qid)
	s.mu.Unlock()
	s.notify()
}

// ClearFiles deletes every file referenced by qid's answer and then clears
// it. Each delete is attempted independently and the local answer is removed
// even when some deletes fail; the failures are returned joined.
func (s *AnswerStore) ClearFiles(ctx context.Context, qid string, files FileStorage) error {
	s.mu.RLock()
	fa, _ := s.answers[qid].(model.FileAnswer)
	fa = append(model.FileAnswer(nil), fa...)
	s.mu.RUnlock()

	errs := deleteFiles(ctx, fa, files)
	s.Clear(qid)
	return errors.Join(errs...)
}

// AttachFiles uploads every file independently and appends the successful
// ones to qid's file answer. Failed uploads are returned joined.
func (s *AnswerStore) AttachFiles(ctx context.Context, qid string, uploads []model.FileUpload, files FileStorage) error {
	added, err := uploadFiles(ctx, uploads, files)
	if len(added) > 0 {
		s.appendFiles(qid, added)
		s.notify()
	}
	return err
}

// appendFiles adds descriptors to qid's file answer without notifying.
func (s *AnswerStore) appendFiles(qid string, added model.FileAnswer) {
	s.mu.Lock()
	existing, _ := s.answers[qid].(model.FileAnswer)
	merged := make(model.FileAnswer, 0, len(existing)+len(added))
	merged = append(merged, existing...)
	s.answers[qid] = append(merged, added...)
	s.mu.Unlock()
}

// uploadFiles stores each upload independently. The descriptors of the
// successful ones keep the input order.
func uploadFiles(ctx context.Context, uploads []model.FileUpload, files FileStorage) (model.FileAnswer, error) {
	descs := make([]*model.FileDescriptor, len(uploads))
	errs := make([]error, len(uploads))

	var g errgroup.Group
	g.SetLimit(maxParallelFileOps)
	for i := range uploads {
		g.Go(func() error {
			url, err := files.Upload(ctx, &uploads[i])
			if err != nil {
				errs[i] = &FileError{Op: "upload", FileName: uploads[i].Name, Err: err}
				return nil
			}
			d := uploads[i].Descriptor(url)
			descs[i] = &d
			return nil
		})
	}
	_ = g.Wait()

	var added model.FileAnswer
	for _, d := range descs {
		if d != nil {
			added = append(added, *d)
		}
	}
	return added, errors.Join(errs...)
}

// deleteFiles removes every file in fa, one attempt each. The result holds
// a *FileError per failed delete.
func deleteFiles(ctx context.Context, fa model.FileAnswer, files FileStorage) []error {
	errs := make([]error, len(fa))
	if files == nil || len(fa) == 0 {
		return errs
	}

	var g errgroup.Group
	g.SetLimit(maxParallelFileOps)
	for i, f := range fa {
		g.Go(func() error {
			if err := files.Delete(ctx, f.FileURL); err != nil {
				errs[i] = &FileError{Op: "delete", FileName: f.FileName, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Get returns the answer stored for qid.
func (s *AnswerStore) Get(qid string) (model.Answer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[qid]
	return model.CloneAnswer(a), ok
}

// AnsweredCount counts the keys whose value is not empty.
func (s *AnswerStore) AnsweredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.answers {
		if model.IsAnswered(a) {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of the whole map for network writes.
func (s *AnswerStore) Snapshot() model.AnswerMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers.Clone()
}

func (s *AnswerStore) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
