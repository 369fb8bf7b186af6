package usecase_test

import (
	"sync"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Hand-rolled port stubs. Only the behavior a test configures is
// simulated; everything else returns zero values.

type completeCall struct {
	id      string
	outcome domain.RequestOutcome
}

type queueRepoStub struct {
	insertErr error
	inserted  []domain.Request

	claimReq domain.Request
	claimOK  bool
	claimErr error

	completeTransitioned bool
	completeErr          error
	completed            []completeCall

	getReq domain.Request
	getErr error

	stats      domain.QueueStats
	statsErr   error
	statsCalls int

	resetOK  bool
	resetErr error

	listReqs   []domain.Request
	listErr    error
	listCutoff time.Time
	listOffset int
	listLimit  int

	purged   int64
	purgeErr error

	retryIDs []string
}

func (q *queueRepoStub) Insert(_ domain.Context, req domain.Request) error {
	if q.insertErr != nil {
		return q.insertErr
	}
	q.inserted = append(q.inserted, req)
	return nil
}

func (q *queueRepoStub) ClaimOne(domain.Context, time.Time) (domain.Request, bool, error) {
	return q.claimReq, q.claimOK, q.claimErr
}

func (q *queueRepoStub) Complete(_ domain.Context, id string, outcome domain.RequestOutcome, _ time.Time) (bool, error) {
	q.completed = append(q.completed, completeCall{id: id, outcome: outcome})
	return q.completeTransitioned, q.completeErr
}

func (q *queueRepoStub) Get(domain.Context, string) (domain.Request, error) {
	return q.getReq, q.getErr
}

func (q *queueRepoStub) Stats(domain.Context) (domain.QueueStats, error) {
	q.statsCalls++
	return q.stats, q.statsErr
}

func (q *queueRepoStub) CountByStatus(domain.Context, domain.RequestStatus) (int64, error) {
	return 0, nil
}

func (q *queueRepoStub) PurgeTerminalOlderThan(domain.Context, time.Time) (int64, error) {
	return q.purged, q.purgeErr
}

func (q *queueRepoStub) ListProcessingOlderThan(_ domain.Context, cutoff time.Time, offset, limit int) ([]domain.Request, error) {
	q.listCutoff = cutoff
	q.listOffset = offset
	q.listLimit = limit
	return q.listReqs, q.listErr
}

func (q *queueRepoStub) ResetToPending(domain.Context, string) (bool, error) {
	return q.resetOK, q.resetErr
}

func (q *queueRepoStub) IncrementRetry(_ domain.Context, id string) error {
	q.retryIDs = append(q.retryIDs, id)
	return nil
}

type ensureCall struct {
	kind string
	id   string
}

type sideRepoStub struct {
	userExisted   bool
	userErr       error
	gptExisted    bool
	gptErr        error
	threadExisted bool
	threadErr     error

	insertedMsg domain.Message
	insertErr   error

	gpt    domain.CustomGPT
	gptGet error

	ensures []ensureCall

	lastUser   domain.User
	lastGPT    domain.CustomGPT
	lastThread domain.Thread
}

func (s *sideRepoStub) EnsureUser(_ domain.Context, u domain.User) (bool, error) {
	s.ensures = append(s.ensures, ensureCall{kind: "user", id: u.ID})
	s.lastUser = u
	return s.userExisted, s.userErr
}

func (s *sideRepoStub) EnsureCustomGPT(_ domain.Context, g domain.CustomGPT) (bool, error) {
	s.ensures = append(s.ensures, ensureCall{kind: "gpt", id: g.ID})
	s.lastGPT = g
	return s.gptExisted, s.gptErr
}

func (s *sideRepoStub) EnsureThread(_ domain.Context, t domain.Thread) (bool, error) {
	s.ensures = append(s.ensures, ensureCall{kind: "thread", id: t.ID})
	s.lastThread = t
	return s.threadExisted, s.threadErr
}

func (s *sideRepoStub) InsertMessage(_ domain.Context, m domain.Message) (string, error) {
	if s.insertErr != nil {
		return "", s.insertErr
	}
	s.insertedMsg = m
	return m.ID, nil
}

func (s *sideRepoStub) GetCustomGPT(domain.Context, string) (domain.CustomGPT, error) {
	return s.gpt, s.gptGet
}

type auditStub struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
	err  error
}

func (a *auditStub) Record(_ domain.Context, rec domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.recs))
	for _, r := range a.recs {
		out = append(out, r.Action)
	}
	return out
}

type cacheStub struct {
	val      domain.QueueStats
	ok       bool
	getCalls int
	setCalls int
	lastSet  domain.QueueStats
}

func (c *cacheStub) Get(domain.Context) (domain.QueueStats, bool) {
	c.getCalls++
	return c.val, c.ok
}

func (c *cacheStub) Set(_ domain.Context, s domain.QueueStats) {
	c.setCalls++
	c.lastSet = s
}
