package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/database/mock"
	"github.com/fotique/selfie-match/internal/faces"
	"github.com/fotique/selfie-match/internal/indexer"
	"github.com/fotique/selfie-match/internal/match"
	"github.com/fotique/selfie-match/internal/ratelimit"
	"github.com/fotique/selfie-match/internal/session"
	"github.com/fotique/selfie-match/internal/storage"
)

type testProvider struct {
	mu      sync.Mutex
	matches []faces.Match
	err     error
	calls   int
}

func (p *testProvider) SearchFaces(_ context.Context, _ []byte, _ string, _ int) ([]faces.Match, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.matches, nil
}

func (p *testProvider) IndexFaces(_ context.Context, _ []byte, _, _ string) error {
	return nil
}

type testStore struct {
	mu        sync.Mutex
	uploads   []string
	uploadErr error
}

func (s *testStore) Upload(_ context.Context, _ []byte, name string, category storage.BucketCategory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	key := fmt.Sprintf("%ss/%d-%s", category, len(s.uploads)+1, name)
	s.uploads = append(s.uploads, key)
	return key, nil
}

func (s *testStore) SignedURL(_ context.Context, key string, _ storage.BucketCategory, _ time.Duration) (string, error) {
	return "https://storage.example.com/" + key, nil
}

func (s *testStore) Download(_ context.Context, _ string, _ storage.BucketCategory) ([]byte, error) {
	return nil, errors.New("not implemented")
}

type testEnqueuer struct {
	mu    sync.Mutex
	tasks []indexer.Task
	err   error
}

func (e *testEnqueuer) Enqueue(task indexer.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, task)
	return nil
}

type testEnv struct {
	policies *mock.GalleryPolicies
	cache    *mock.SelfieCache
	attempts *mock.AttemptStore
	provider *testProvider
	store    *testStore
	sessions *session.Issuer

	selfie *SelfieHandler
	photos *PhotosHandler
	queue  *testEnqueuer
}

func newTestEnv(maxAttempts int) *testEnv {
	env := &testEnv{
		policies: mock.NewGalleryPolicies(),
		cache:    mock.NewSelfieCache(),
		attempts: mock.NewAttemptStore(),
		provider: &testProvider{},
		store:    &testStore{},
		queue:    &testEnqueuer{},
	}
	env.policies.AddPolicy(database.GalleryPolicy{
		GalleryID:             "g1",
		SelfieMatchingEnabled: true,
		GuestAccessModes:      []string{database.GuestModeSelfie},
	})

	log := zap.NewNop()
	limiter := ratelimit.New(env.attempts, maxAttempts, 10*time.Minute, log)
	orch := match.New(env.policies, env.cache, limiter, env.store, env.provider, log, match.Options{})
	env.sessions, _ = session.NewIssuer("test-secret", time.Hour)

	env.selfie = NewSelfieHandler(orch, env.cache, env.sessions, log)
	env.photos = NewPhotosHandler(env.store, env.queue, log)
	return env
}

// multipartBody builds a multipart form with one file field plus values.
func multipartBody(fileField, fileName string, fileData []byte, values map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if fileField != "" {
		part, _ := writer.CreateFormFile(fileField, fileName)
		part.Write(fileData)
	}
	for k, v := range values {
		writer.WriteField(k, v)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}
