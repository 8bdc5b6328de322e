package service

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/classroom/classroom/internal/activity"
	"github.com/classroom/classroom/internal/config"
	"github.com/classroom/classroom/internal/locale"
	"github.com/classroom/classroom/internal/models"
	"github.com/classroom/classroom/internal/notify"
	"github.com/classroom/classroom/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeHasher struct{}

func (fakeHasher) Hash(_ context.Context, plaintext string) (string, error) {
	return "hashed:" + plaintext, nil
}

func (fakeHasher) Compare(_ context.Context, plaintext, digest string) (bool, error) {
	return digest == "hashed:"+plaintext, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

var codePattern = regexp.MustCompile(`code is: (\d+)`)

// lastCode pulls the plaintext code out of the most recent email.
func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.messages)
	m := codePattern.FindStringSubmatch(n.messages[len(n.messages)-1].Body)
	require.Len(t, m, 2)
	return m[1]
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordingRecorder) Record(_ context.Context, ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRecorder) last(action string) (activity.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Action == action {
			return r.events[i], true
		}
	}
	return activity.Event{}, false
}

func (r *recordingRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// spyOTPStore counts calls and can fail selected housekeeping operations.
type spyOTPStore struct {
	repository.OTPStore

	mu               sync.Mutex
	calls            int
	deleteExpiredErr error
	deleteBeforeErr  error
	deleteByIDErr    error
}

func (s *spyOTPStore) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *spyOTPStore) Create(ctx context.Context, rec *models.OTPRecord) error {
	s.hit()
	return s.OTPStore.Create(ctx, rec)
}

func (s *spyOTPStore) FindLatest(ctx context.Context, email string) (*models.OTPRecord, error) {
	s.hit()
	return s.OTPStore.FindLatest(ctx, email)
}

func (s *spyOTPStore) FindLatestValid(ctx context.Context, email, digest string, now time.Time) (*models.OTPRecord, error) {
	s.hit()
	return s.OTPStore.FindLatestValid(ctx, email, digest, now)
}

func (s *spyOTPStore) Consume(ctx context.Context, email, id string, now time.Time) (bool, error) {
	s.hit()
	return s.OTPStore.Consume(ctx, email, id, now)
}

func (s *spyOTPStore) DeleteByID(ctx context.Context, email, id string) error {
	s.hit()
	if s.deleteByIDErr != nil {
		return s.deleteByIDErr
	}
	return s.OTPStore.DeleteByID(ctx, email, id)
}

func (s *spyOTPStore) DeleteExpired(ctx context.Context, email string, now time.Time) (int64, error) {
	s.hit()
	if s.deleteExpiredErr != nil {
		return 0, s.deleteExpiredErr
	}
	return s.OTPStore.DeleteExpired(ctx, email, now)
}

func (s *spyOTPStore) DeleteIssuedBefore(ctx context.Context, email string, before time.Time, keepID string) (int64, error) {
	s.hit()
	if s.deleteBeforeErr != nil {
		return 0, s.deleteBeforeErr
	}
	return s.OTPStore.DeleteIssuedBefore(ctx, email, before, keepID)
}

func (s *spyOTPStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errBoom = errors.New("boom")

type fixture struct {
	svc      *AuthService
	users    *repository.MemoryUserRepository
	records  *repository.MemoryOTPRepository
	otps     *spyOTPStore
	notifier *recordingNotifier
	recorder *recordingRecorder
	clock    *fakeClock
	logs     *bytes.Buffer
}

func defaultOTPConfig() config.OTPConfig {
	return config.OTPConfig{
		Length:              6,
		Expiry:              10 * time.Minute,
		ResendWindow:        60 * time.Second,
		InvalidateOnReissue: true,
	}
}

func newFixture(t *testing.T, tweak func(*config.OTPConfig)) *fixture {
	t.Helper()
	cfg := defaultOTPConfig()
	if tweak != nil {
		tweak(&cfg)
	}

	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logs)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		users:    repository.NewMemoryUserRepository(),
		records:  repository.NewMemoryOTPRepository(),
		notifier: &recordingNotifier{},
		recorder: &recordingRecorder{},
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		logs:     logs,
	}
	f.otps = &spyOTPStore{OTPStore: f.records}
	f.svc = NewAuthService(f.users, f.otps, fakeHasher{}, f.notifier, f.recorder, locale.New("en"), &cfg, logger)
	f.svc.now = f.clock.Now
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *models.AccountView {
	t.Helper()
	view, err := f.svc.Register(context.Background(), models.RegisterRequest{
		FullName:        "Test User",
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
	})
	require.NoError(t, err)
	return view
}

func resetRequest(email, code, password string) models.ResetPasswordRequest {
	return models.ResetPasswordRequest{Email: email, Code: code, NewPassword: password, ConfirmPassword: password}
}

// tickingClock hands out a strictly later instant on every call.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// rendezvous releases its callers only once n of them have arrived.
type rendezvous struct{ wg sync.WaitGroup }

func newRendezvous(n int) *rendezvous {
	r := &rendezvous{}
	r.wg.Add(n)
	return r
}

func (r *rendezvous) arrive() {
	r.wg.Done()
	r.wg.Wait()
}

// lockstepOTPStore holds concurrent reset requests together after the
// throttle lookup and again after issuing, so both pass the throttle before
// either invalidates.
type lockstepOTPStore struct {
	repository.OTPStore
	afterFind   *rendezvous
	afterCreate *rendezvous
}

func (s *lockstepOTPStore) FindLatest(ctx context.Context, email string) (*models.OTPRecord, error) {
	rec, err := s.OTPStore.FindLatest(ctx, email)
	s.afterFind.arrive()
	return rec, err
}

func (s *lockstepOTPStore) Create(ctx context.Context, rec *models.OTPRecord) error {
	err := s.OTPStore.Create(ctx, rec)
	s.afterCreate.arrive()
	return err
}
