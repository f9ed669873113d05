package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskpilot/internal/domain"
	"taskpilot/internal/repository"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
	creates      int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, ok := m.usersByEmail[email]; ok {
		return domain.User{}, repository.ErrDuplicateEmail
	}
	user.Email = email
	m.usersByID[user.ID] = user
	m.usersByEmail[email] = user.ID
	m.creates++
	return user, nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	id, ok := m.usersByEmail[strings.ToLower(email)]
	m.mu.Unlock()
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockUserRepo) mutate(id string, fn func(*domain.User)) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	fn(&user)
	user.UpdatedAt = time.Now().UTC()
	m.usersByID[id] = user
	return user, nil
}

func (m *mockUserRepo) SetVerified(_ context.Context, id string) (domain.User, error) {
	return m.mutate(id, func(u *domain.User) { u.IsEmailVerified = true })
}

func (m *mockUserRepo) SetPasswordHash(_ context.Context, id, hash string) (domain.User, error) {
	return m.mutate(id, func(u *domain.User) { u.PasswordHash = hash })
}

func (m *mockUserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) (domain.User, error) {
	return m.mutate(id, func(u *domain.User) { u.LastLoginAt = &at })
}

func (m *mockUserRepo) UpdateName(_ context.Context, id, name string) (domain.User, error) {
	return m.mutate(id, func(u *domain.User) { u.Name = name })
}

func (m *mockUserRepo) DeletePending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok || user.IsEmailVerified {
		return repository.ErrNotFound
	}
	delete(m.usersByID, id)
	delete(m.usersByEmail, user.Email)
	return nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []domain.EmailJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job domain.EmailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) last() (domain.EmailJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return domain.EmailJob{}, false
	}
	return q.jobs[len(q.jobs)-1], true
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) bool { return false }
