package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"course-billing/internal/models"
	"course-billing/internal/paystack"
	"course-billing/internal/store"
)

// fakeRepo is an in-memory store.Repository. Transactions are serialized and
// roll back the subscription table on error.
type fakeRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users     map[int64]*models.User
	sessions  map[int64]models.CourseSession
	resources map[int64]models.CourseResource
	courses   map[int64]*models.Course
	lecturers map[int64][]models.User
	subs      []models.CourseSubscription
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[int64]*models.User{
			5: {ID: 5, Email: "ada@example.com", FirstName: "Ada"},
			6: {ID: 6, Email: "bola@example.com", FirstName: "Bola"},
		},
		sessions: map[int64]models.CourseSession{
			1: {ID: 1, CourseID: 10, Title: "Go Basics", Cost: 2000, Link: "https://meet.example.com/go-basics"},
			2: {ID: 2, CourseID: 10, Title: "Go Advanced", Cost: 3000, Link: "https://meet.example.com/go-advanced"},
		},
		resources: map[int64]models.CourseResource{
			100: {ID: 100, CourseSessionID: 1, Title: "Slides", URL: "https://files.example.com/slides.pdf"},
		},
		courses: map[int64]*models.Course{
			10: {ID: 10, Title: "Go", Forum: &models.Forum{ID: 3, Title: "Go forum"}},
		},
		lecturers: map[int64][]models.User{
			1: {{ID: 9, FirstName: "Rob"}},
		},
		nextID: 1,
	}
}

func (r *fakeRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := append([]models.CourseSubscription(nil), r.subs...)
	nextID := r.nextID
	r.mu.Unlock()

	if err := fn(ctx, &fakeTx{r: r}); err != nil {
		r.mu.Lock()
		r.subs = snapshot
		r.nextID = nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) GetCourseSessionByID(ctx context.Context, id int64) (*models.CourseSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("course session %d: %w", id, store.ErrNotFound)
	}
	return &s, nil
}

func (r *fakeRepo) GetCourseSessionsByIDs(ctx context.Context, ids []int64) ([]models.CourseSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsLocked(ids), nil
}

func (r *fakeRepo) sessionsLocked(ids []int64) []models.CourseSession {
	out := []models.CourseSession{}
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRepo) GetCourseResourceByID(ctx context.Context, id int64) (*models.CourseResource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok {
		return nil, fmt.Errorf("course resource %d: %w", id, store.ErrNotFound)
	}
	return &res, nil
}

func (r *fakeRepo) GetLecturersBySessionIDs(ctx context.Context, ids []int64) (map[int64][]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64][]models.User)
	for _, id := range ids {
		if l, ok := r.lecturers[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (r *fakeRepo) GetResourcesBySessionIDs(ctx context.Context, ids []int64) (map[int64][]models.CourseResource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64][]models.CourseResource)
	for _, id := range ids {
		for _, res := range r.resources {
			if res.CourseSessionID == id {
				res.URL = ""
				out[id] = append(out[id], res)
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) GetCoursesByIDs(ctx context.Context, ids []int64) (map[int64]*models.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]*models.Course)
	for _, id := range ids {
		if c, ok := r.courses[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (r *fakeRepo) ListSuccessfulSubscriptionsByUser(ctx context.Context, userID int64) ([]models.CourseSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.CourseSubscription{}
	for _, s := range r.subs {
		if s.UserID == userID && s.Status == models.SubscriptionStatusSuccess {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetSuccessfulSubscription(ctx context.Context, userID, courseSessionID int64) (*models.CourseSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.UserID == userID && s.CourseSessionID == courseSessionID && s.Status == models.SubscriptionStatusSuccess {
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) ListSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byReferenceLocked(reference), nil
}

func (r *fakeRepo) byReferenceLocked(reference string) []models.CourseSubscription {
	out := []models.CourseSubscription{}
	for _, s := range r.subs {
		if s.PaymentReference == reference {
			out = append(out, s)
		}
	}
	return out
}

func (r *fakeRepo) ListStalePendingReferences(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for _, s := range r.subs {
		if s.Status != models.SubscriptionStatusPending || !s.CreatedAt.Before(olderThan) || seen[s.PaymentReference] {
			continue
		}
		seen[s.PaymentReference] = true
		out = append(out, s.PaymentReference)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// seed inserts rows directly, bypassing order intake
func (r *fakeRepo) seed(rows ...models.CourseSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		row.ID = r.nextID
		r.nextID++
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
		r.subs = append(r.subs, row)
	}
}

func (r *fakeRepo) rows(reference string) []models.CourseSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byReferenceLocked(reference)
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type fakeTx struct {
	r *fakeRepo
}

func (t *fakeTx) GetCourseSessionsForShare(ctx context.Context, ids []int64) ([]models.CourseSession, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	return t.r.sessionsLocked(ids), nil
}

func (t *fakeTx) InsertSubscription(ctx context.Context, sub *models.CourseSubscription) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	sub.ID = t.r.nextID
	t.r.nextID++
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	t.r.subs = append(t.r.subs, *sub)
	return nil
}

func (t *fakeTx) LockSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	return t.r.byReferenceLocked(reference), nil
}

func (t *fakeTx) FinalizePendingByReference(ctx context.Context, reference string, outcome models.SubscriptionOutcome) (int64, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	var n int64
	for i := range t.r.subs {
		s := &t.r.subs[i]
		if s.PaymentReference != reference || s.Status != models.SubscriptionStatusPending {
			continue
		}
		txID := outcome.TransactionID
		s.Status = outcome.Status
		s.TransactionID = &txID
		s.Reason = outcome.Reason
		s.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

type fakeGateway struct {
	mu sync.Mutex

	reference   string
	authURL     string
	initErr     error
	initAmounts []int64
	initEmails  []string
	// blockInit makes initialize wait for its context like a hung gateway
	blockInit bool

	verifications map[string]*paystack.Verification
	verifyErrs    map[string]error
	verifyCalls   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		reference:     "ref-1",
		authURL:       "https://checkout.paystack.com/ref-1",
		verifications: map[string]*paystack.Verification{},
		verifyErrs:    map[string]error{},
	}
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, amount int64, email string) (*paystack.InitializeResult, error) {
	if g.blockInit {
		<-ctx.Done()
		return nil, fmt.Errorf("initialize: %v: %w", ctx.Err(), paystack.ErrProviderUnavailable)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initAmounts = append(g.initAmounts, amount)
	g.initEmails = append(g.initEmails, email)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &paystack.InitializeResult{Reference: g.reference, AuthorizationURL: g.authURL}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystack.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if err := g.verifyErrs[reference]; err != nil {
		return nil, err
	}
	v, ok := g.verifications[reference]
	if !ok {
		return nil, fmt.Errorf("no verification for %s: %w", reference, paystack.ErrRequestRejected)
	}
	cp := *v
	return &cp, nil
}

func (g *fakeGateway) setVerification(reference string, id int64, status string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[reference] = &paystack.Verification{
		Message:   "Verification successful",
		ID:        id,
		Status:    status,
		Amount:    amount,
		Reference: reference,
	}
}

func (g *fakeGateway) initCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initAmounts)
}

type fakePublisher struct {
	mu         sync.Mutex
	created    []*models.SubscriptionsCreatedEvent
	reconciled []*models.PaymentReconciledEvent
	anomalies  []*models.ReconciliationAnomalyEvent
}

func (p *fakePublisher) PublishSubscriptionsCreated(ctx context.Context, event *models.SubscriptionsCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return nil
}

func (p *fakePublisher) PublishPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciled = append(p.reconciled, event)
	return nil
}

func (p *fakePublisher) PublishReconciliationAnomaly(ctx context.Context, event *models.ReconciliationAnomalyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anomalies = append(p.anomalies, event)
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	urls map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{urls: map[string]string{}}
}

func (c *fakeCache) GetCheckoutURL(ctx context.Context, userID int64, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.urls[fmt.Sprintf("%d:%s", userID, key)]
	return url, ok, nil
}

func (c *fakeCache) SetCheckoutURL(ctx context.Context, userID int64, key, url string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[fmt.Sprintf("%d:%s", userID, key)] = url
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return "", false, nil
	}
	l.held[name] = "token-" + name
	return l.held[name], true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] == token {
		delete(l.held, name)
	}
	return nil
}
