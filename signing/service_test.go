package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fundflow/anchor"
	"fundflow/identity"
	"fundflow/placement"
	"fundflow/storage"
)

// fakeRepo is an in-memory Repository tracking every mutation.
type fakeRepo struct {
	byID   map[string]*Request
	nextID int

	hasActive    bool
	hasActiveErr error
	insertErr    error
	siblingsErr  error

	markSignedCalls  int
	markExpiredCalls int
	events           []string
	topics           []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]*Request)}
}

func (f *fakeRepo) add(req Request) *Request {
	f.nextID++
	if req.ID == "" {
		req.ID = fmt.Sprintf("req-%03d", f.nextID)
	}
	cp := req
	f.byID[cp.ID] = &cp
	return &cp
}

func (f *fakeRepo) Insert(_ context.Context, req Request) (Request, error) {
	if f.insertErr != nil {
		return Request{}, f.insertErr
	}
	return *f.add(req), nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (Request, error) {
	if r, ok := f.byID[id]; ok {
		return *r, nil
	}
	return Request{}, ErrNotFound
}

func (f *fakeRepo) GetByToken(_ context.Context, token string) (Request, error) {
	for _, r := range f.byID {
		if r.Token == token {
			return *r, nil
		}
	}
	return Request{}, ErrNotFound
}

func (f *fakeRepo) HasActive(_ context.Context, _ GroupKey, _ Role, _ string) (bool, error) {
	return f.hasActive, f.hasActiveErr
}

func (f *fakeRepo) Siblings(_ context.Context, group GroupKey) ([]Request, error) {
	if f.siblingsErr != nil {
		return nil, f.siblingsErr
	}
	var out []Request
	for _, r := range f.byID {
		if r.Group.ScopeID() == group.ScopeID() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) LatestSigned(_ context.Context, group GroupKey) (*Request, error) {
	var latest *Request
	for _, r := range f.byID {
		if r.Group.ScopeID() != group.ScopeID() || r.Status != StatusSigned || r.SignedAt == nil {
			continue
		}
		if latest == nil || r.SignedAt.After(*latest.SignedAt) {
			cp := *r
			latest = &cp
		}
	}
	return latest, nil
}

func (f *fakeRepo) MarkSigned(_ context.Context, id, signedPath string) (bool, error) {
	f.markSignedCalls++
	r, ok := f.byID[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = StatusSigned
	r.SignedPath = &signedPath
	r.SignedAt = &now
	return true, nil
}

func (f *fakeRepo) MarkExpired(_ context.Context, id string) (bool, error) {
	f.markExpiredCalls++
	r, ok := f.byID[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusExpired
	return true, nil
}

func (f *fakeRepo) MarkCancelled(_ context.Context, id string) (bool, error) {
	r, ok := f.byID[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusCancelled
	return true, nil
}

func (f *fakeRepo) AppendEvent(_ context.Context, _, eventType string, _ map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeRepo) EnqueueOutbox(_ context.Context, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

// fakeStamper appends a visible marker per drawn signature so chaining is
// observable in the output bytes.
type fakeStamper struct{ err error }

func (f *fakeStamper) StampPlacements(doc []byte, _ string, placements []placement.Placement, signerName string, _ time.Time) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]byte{}, doc...)
	for range placements {
		out = append(out, []byte("|mark:"+signerName)...)
	}
	return out, nil
}

func (f *fakeStamper) StampAt(doc []byte, _ string, _ int, _, _ float64, signerName string, _ time.Time) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]byte{}, doc...), []byte("|mark:"+signerName)...), nil
}

type fakeLocker struct {
	acquireErr error
	acquires   int
	releases   int
}

func (f *fakeLocker) Acquire(_ context.Context, _, _ string) error {
	f.acquires++
	return f.acquireErr
}

func (f *fakeLocker) Release(_ context.Context, _, _ string) { f.releases++ }

type fakeRouter struct {
	err   error
	calls []Request
	pdfs  [][]byte
}

func (f *fakeRouter) OnDocumentComplete(_ context.Context, req Request, signedPDF []byte) error {
	f.calls = append(f.calls, req)
	f.pdfs = append(f.pdfs, signedPDF)
	return f.err
}

type fakeScanner struct {
	anchors []anchor.Anchor
	err     error
}

func (f *fakeScanner) Scan(_ []byte) ([]anchor.Anchor, error) { return f.anchors, f.err }

type fakeVerifier struct {
	assertion identity.Assertion
	err       error
}

func (f *fakeVerifier) VerifyAssertion(string) (identity.Assertion, error) {
	return f.assertion, f.err
}

type harness struct {
	svc    *Service
	repo   *fakeRepo
	store  *storage.Memory
	lock   *fakeLocker
	router *fakeRouter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   newFakeRepo(),
		store:  storage.NewMemory(),
		lock:   &fakeLocker{},
		router: &fakeRouter{},
	}
	h.svc = NewService(nil, h.store, "https://sign.example.com", zerolog.Nop()).
		WithRepository(h.repo).
		WithStamper(&fakeStamper{}).
		WithLocker(h.lock).
		WithCompletionRouter(h.router)
	return h
}

func strptr(s string) *string { return &s }

func (h *harness) seedPending(t *testing.T, mutate func(*Request)) Request {
	t.Helper()
	wf := "wf-1"
	req := Request{
		DocumentType:   DocNDA,
		SignerEmail:    "signer@example.com",
		SignerName:     "Ada Example",
		Role:           RoleInvestor,
		Position:       "party_a",
		Status:         StatusPending,
		Token:          "tok-1",
		TokenExpiresAt: time.Now().Add(time.Hour),
		UnsignedPath:   "wf-1/tok-1_unsigned.pdf",
		Group:          GroupKey{WorkflowID: &wf},
		EmailVerified:  true,
	}
	if mutate != nil {
		mutate(&req)
	}
	stored := h.repo.add(req)
	if _, err := h.store.Upload(context.Background(), stored.UnsignedPath, []byte("unsigned:"+stored.Token), "application/pdf", nil); err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	return *stored
}

func TestCreate_Success(t *testing.T) {
	h := newHarness(t)
	wf := "wf-9"

	res, err := h.svc.Create(context.Background(), CreateParams{
		DocumentType: DocNDA,
		SignerEmail:  "new@example.com",
		SignerName:   "New Signer",
		Role:         RoleInvestor,
		Position:     "party_a",
		Group:        GroupKey{WorkflowID: &wf},
		UnsignedPDF:  []byte("%PDF-fake"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if res.Request.Status != StatusPending {
		t.Fatalf("expected pending, got %s", res.Request.Status)
	}
	if res.Request.UnsignedPath != "wf-9/"+res.Request.Token+"_unsigned.pdf" {
		t.Fatalf("unexpected unsigned path %s", res.Request.UnsignedPath)
	}
	if !strings.HasPrefix(res.SigningLink, "https://sign.example.com/sign/") {
		t.Fatalf("unexpected signing link %s", res.SigningLink)
	}
	if _, err := h.store.Download(context.Background(), res.Request.UnsignedPath); err != nil {
		t.Fatalf("unsigned pdf not uploaded: %v", err)
	}
	if len(h.repo.events) != 1 || h.repo.events[0] != "SIGNATURE_REQUESTED" {
		t.Fatalf("unexpected events %v", h.repo.events)
	}
}

func TestCreate_DuplicateSlot(t *testing.T) {
	h := newHarness(t)
	h.repo.hasActive = true
	wf := "wf-9"

	_, err := h.svc.Create(context.Background(), CreateParams{
		DocumentType: DocNDA,
		SignerEmail:  "new@example.com",
		SignerName:   "New Signer",
		Role:         RoleInvestor,
		Position:     "party_a",
		Group:        GroupKey{WorkflowID: &wf},
		UnsignedPDF:  []byte("%PDF-fake"),
	})
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestCreate_GroupValidation(t *testing.T) {
	h := newHarness(t)
	wf, doc := "wf-1", "doc-1"

	_, err := h.svc.Create(context.Background(), CreateParams{
		DocumentType: DocNDA,
		SignerEmail:  "a@example.com",
		SignerName:   "A",
		Role:         RoleInvestor,
		Position:     "party_a",
		Group:        GroupKey{WorkflowID: &wf, DocumentID: &doc},
		UnsignedPDF:  []byte("%PDF"),
	})
	if err == nil {
		t.Fatal("expected error for two grouping keys")
	}
}

func TestCreate_SubscriptionFreezesPlacements(t *testing.T) {
	h := newHarness(t)
	doc := "doc-1"
	h.svc.WithScanner(&fakeScanner{anchors: []anchor.Anchor{
		{ID: "party_a_form", Page: 2, PageWidth: 612, PageHeight: 792},
		{ID: "party_a", Page: 14, PageWidth: 612, PageHeight: 792},
	}})

	res, err := h.svc.Create(context.Background(), CreateParams{
		DocumentType: DocSubscription,
		SignerEmail:  "sub@example.com",
		SignerName:   "Sub Scriber",
		Role:         RoleInvestor,
		Position:     "party_a",
		Group:        GroupKey{DocumentID: &doc},
		UnsignedPDF:  []byte("%PDF-sub"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Request.Placements) != 2 {
		t.Fatalf("expected 2 frozen placements, got %+v", res.Request.Placements)
	}
	if res.Request.Placements[0].Page != 2 || res.Request.Placements[1].Page != 14 {
		t.Fatalf("placements carry wrong pages: %+v", res.Request.Placements)
	}
}

func TestCreate_SubscriptionWithoutAnchorsIsBrokenTemplate(t *testing.T) {
	h := newHarness(t)
	doc := "doc-1"
	h.svc.WithScanner(&fakeScanner{})

	_, err := h.svc.Create(context.Background(), CreateParams{
		DocumentType: DocSubscription,
		SignerEmail:  "sub@example.com",
		SignerName:   "Sub Scriber",
		Role:         RoleInvestor,
		Position:     "party_a",
		Group:        GroupKey{DocumentID: &doc},
		UnsignedPDF:  []byte("%PDF-sub"),
	})
	if !errors.Is(err, ErrBrokenTemplate) {
		t.Fatalf("expected ErrBrokenTemplate, got %v", err)
	}
}

func TestSubmit_Success(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, nil)

	got, err := h.svc.Submit(context.Background(), SubmitParams{
		Token:             req.Token,
		SignatureImageB64: "aW1n",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got.Status != StatusSigned {
		t.Fatalf("expected signed, got %s", got.Status)
	}
	if got.SignedPath == nil || *got.SignedPath != "wf-1/tok-1_signed.pdf" {
		t.Fatalf("unexpected signed path %v", got.SignedPath)
	}

	data, err := h.store.Download(context.Background(), *got.SignedPath)
	if err != nil {
		t.Fatalf("signed pdf missing: %v", err)
	}
	if !strings.Contains(string(data), "|mark:Ada Example") {
		t.Fatalf("signature mark missing from %q", data)
	}

	if h.lock.acquires != 1 || h.lock.releases != 1 {
		t.Fatalf("lock acquire/release = %d/%d, want 1/1", h.lock.acquires, h.lock.releases)
	}
}

func TestSubmit_UnknownToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), SubmitParams{Token: "nope", SignatureImageB64: "aW1n"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmit_LazyExpiry(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, func(r *Request) {
		r.TokenExpiresAt = time.Now().Add(-time.Minute)
	})

	_, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"})
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if h.repo.markExpiredCalls != 1 {
		t.Fatalf("expected lazy expiry write, got %d calls", h.repo.markExpiredCalls)
	}
	if h.repo.byID[req.ID].Status != StatusExpired {
		t.Fatalf("request not expired: %s", h.repo.byID[req.ID].Status)
	}
}

func TestSubmit_TerminalStates(t *testing.T) {
	for _, status := range []Status{StatusSigned, StatusExpired, StatusCancelled} {
		h := newHarness(t)
		req := h.seedPending(t, func(r *Request) { r.Status = status })

		_, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"})
		var npe *NotPendingError
		if !errors.As(err, &npe) {
			t.Fatalf("status %s: expected NotPendingError, got %v", status, err)
		}
		if npe.Status != status {
			t.Fatalf("expected reported status %s, got %s", status, npe.Status)
		}
	}
}

func TestSubmit_BoundUserRequiresAssertion(t *testing.T) {
	h := newHarness(t)
	h.svc.WithIdentityVerifier(&fakeVerifier{assertion: identity.Assertion{UserID: "u-1"}})
	req := h.seedPending(t, func(r *Request) { r.SignerUserID = strptr("u-1") })

	if _, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"}); !errors.Is(err, ErrWrongSigner) {
		t.Fatalf("no assertion: expected ErrWrongSigner, got %v", err)
	}

	got, err := h.svc.Submit(context.Background(), SubmitParams{
		Token:             req.Token,
		SignatureImageB64: "aW1n",
		ActorAssertion:    "jwt-ok",
	})
	if err != nil {
		t.Fatalf("matching assertion: %v", err)
	}
	if got.Status != StatusSigned {
		t.Fatalf("expected signed, got %s", got.Status)
	}
}

func TestSubmit_WrongActor(t *testing.T) {
	h := newHarness(t)
	h.svc.WithIdentityVerifier(&fakeVerifier{assertion: identity.Assertion{UserID: "someone-else"}})
	req := h.seedPending(t, func(r *Request) { r.SignerUserID = strptr("u-1") })

	_, err := h.svc.Submit(context.Background(), SubmitParams{
		Token:             req.Token,
		SignatureImageB64: "aW1n",
		ActorAssertion:    "jwt-other",
	})
	if !errors.Is(err, ErrWrongSigner) {
		t.Fatalf("expected ErrWrongSigner, got %v", err)
	}
}

func TestSubmit_EmailUnverified(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, func(r *Request) { r.EmailVerified = false })

	_, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"})
	if !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("expected ErrEmailUnverified, got %v", err)
	}
}

func TestSubmit_ProgressiveOrderBlocksSubscriber(t *testing.T) {
	h := newHarness(t)
	doc := "doc-1"
	sub := h.seedPending(t, func(r *Request) {
		r.DocumentType = DocSubscription
		r.Group = GroupKey{DocumentID: &doc}
		r.UnsignedPath = "doc-1/tok-1_unsigned.pdf"
	})
	h.seedPending(t, func(r *Request) {
		r.DocumentType = DocSubscription
		r.Position = "party_b"
		r.Role = RoleAdmin
		r.SignerEmail = "issuer@example.com"
		r.Token = "tok-issuer"
		r.Group = GroupKey{DocumentID: &doc}
		r.UnsignedPath = "doc-1/tok-issuer_unsigned.pdf"
	})

	_, err := h.svc.Submit(context.Background(), SubmitParams{Token: sub.Token, SignatureImageB64: "aW1n"})
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OrderError, got %v", err)
	}
	if oe.BlockingPosition != "party_b" || oe.BlockingEmail != "issuer@example.com" {
		t.Fatalf("order error should name the blocker: %+v", oe)
	}
}

func TestSubmit_IssuerSignsFirstThenSubscriber(t *testing.T) {
	h := newHarness(t)
	doc := "doc-1"
	sub := h.seedPending(t, func(r *Request) {
		r.DocumentType = DocSubscription
		r.Group = GroupKey{DocumentID: &doc}
		r.UnsignedPath = "doc-1/tok-1_unsigned.pdf"
	})
	issuer := h.seedPending(t, func(r *Request) {
		r.DocumentType = DocSubscription
		r.Position = "party_b"
		r.Role = RoleAdmin
		r.SignerName = "Issuer Rep"
		r.Token = "tok-issuer"
		r.Group = GroupKey{DocumentID: &doc}
		r.UnsignedPath = "doc-1/tok-issuer_unsigned.pdf"
	})

	if _, err := h.svc.Submit(context.Background(), SubmitParams{Token: issuer.Token, SignatureImageB64: "aW1n"}); err != nil {
		t.Fatalf("issuer submit: %v", err)
	}
	got, err := h.svc.Submit(context.Background(), SubmitParams{Token: sub.Token, SignatureImageB64: "aW1n"})
	if err != nil {
		t.Fatalf("subscriber submit after issuer: %v", err)
	}

	// Subscriber's output chains off the issuer's signed PDF, so it carries
	// both marks.
	data, err := h.store.Download(context.Background(), *got.SignedPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "|mark:Issuer Rep") || !strings.Contains(string(data), "|mark:Ada Example") {
		t.Fatalf("chained output missing marks: %q", data)
	}
}

func TestSubmit_ConcurrentCommitLoses(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, nil)

	// Interleave: the row reads as pending but another writer wins the
	// conditional update first.
	h.svc.WithRepository(&racingRepo{fakeRepo: h.repo})

	_, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"})
	if !errors.Is(err, ErrConcurrentlySigned) {
		t.Fatalf("expected ErrConcurrentlySigned, got %v", err)
	}
	if h.lock.releases != h.lock.acquires {
		t.Fatal("lock must be released on the losing path")
	}
}

// racingRepo reports a pending row but always loses the conditional commit.
type racingRepo struct{ *fakeRepo }

func (r *racingRepo) MarkSigned(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func TestSubmit_LockBusy(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, nil)
	h.lock.acquireErr = ErrWorkflowBusy

	_, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"})
	if !errors.Is(err, ErrWorkflowBusy) {
		t.Fatalf("expected ErrWorkflowBusy, got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("lock contention must be retryable")
	}
	if h.repo.markSignedCalls != 0 {
		t.Fatal("no commit may happen without the lock")
	}
}

func TestSubmit_DocumentGroupSkipsLock(t *testing.T) {
	h := newHarness(t)
	doc := "doc-1"
	req := h.seedPending(t, func(r *Request) {
		r.Group = GroupKey{DocumentID: &doc}
		r.UnsignedPath = "doc-1/tok-1_unsigned.pdf"
	})

	if _, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.lock.acquires != 0 {
		t.Fatalf("document grouping must not lock, got %d acquires", h.lock.acquires)
	}
}

func TestSubmit_CompletionDispatchedOnce(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, nil)

	if _, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(h.router.calls) != 1 {
		t.Fatalf("expected 1 completion dispatch, got %d", len(h.router.calls))
	}
	if h.router.calls[0].ID != req.ID {
		t.Fatalf("completion saw wrong request %s", h.router.calls[0].ID)
	}
	if !strings.Contains(string(h.router.pdfs[0]), "|mark:Ada Example") {
		t.Fatal("completion must receive the stamped PDF")
	}
}

func TestSubmit_CompletionWaitsForSiblings(t *testing.T) {
	h := newHarness(t)
	wf := "wf-1"
	req := h.seedPending(t, nil)
	h.seedPending(t, func(r *Request) {
		r.Token = "tok-2"
		r.SignerEmail = "second@example.com"
		r.Role = RoleAdmin
		r.Group = GroupKey{WorkflowID: &wf}
		r.UnsignedPath = "wf-1/tok-2_unsigned.pdf"
	})

	if _, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(h.router.calls) != 0 {
		t.Fatalf("completion must wait for pending siblings, got %d dispatches", len(h.router.calls))
	}
}

func TestSubmit_HandlerFailureDoesNotRevertSignature(t *testing.T) {
	h := newHarness(t)
	h.router.err = errors.New("downstream exploded")
	req := h.seedPending(t, nil)

	got, err := h.svc.Submit(context.Background(), SubmitParams{Token: req.Token, SignatureImageB64: "aW1n"})
	if err != nil {
		t.Fatalf("submit must succeed despite handler failure: %v", err)
	}
	if got.Status != StatusSigned {
		t.Fatalf("expected signed, got %s", got.Status)
	}
	if h.repo.byID[req.ID].Status != StatusSigned {
		t.Fatal("signature commit was reverted")
	}

	var sawFailure bool
	for _, ev := range h.repo.events {
		if ev == "COMPLETION_HANDLER_FAILED" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected COMPLETION_HANDLER_FAILED audit event, got %v", h.repo.events)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	req := h.seedPending(t, nil)

	if err := h.svc.Cancel(context.Background(), req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.repo.byID[req.ID].Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", h.repo.byID[req.ID].Status)
	}

	err := h.svc.Cancel(context.Background(), req.ID)
	var npe *NotPendingError
	if !errors.As(err, &npe) {
		t.Fatalf("second cancel: expected NotPendingError, got %v", err)
	}
}

func TestNewTokenFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		if len(tok) != 64 {
			t.Fatalf("expected 64 hex chars, got %d (%s)", len(tok), tok)
		}
		for _, r := range tok {
			if !strings.ContainsRune("0123456789abcdef", r) {
				t.Fatalf("non-hex rune %q in token", r)
			}
		}
		if seen[tok] {
			t.Fatal("duplicate token")
		}
		seen[tok] = true
	}
}

func TestGroupKey(t *testing.T) {
	wf := "wf-1"
	doc := "doc-1"

	if err := (GroupKey{WorkflowID: &wf}).Validate(); err != nil {
		t.Fatalf("single key: %v", err)
	}
	if err := (GroupKey{}).Validate(); err == nil {
		t.Fatal("expected error for zero keys")
	}
	if err := (GroupKey{WorkflowID: &wf, DocumentID: &doc}).Validate(); err == nil {
		t.Fatal("expected error for two keys")
	}

	if !(GroupKey{WorkflowID: &wf}).RequiresLock() {
		t.Fatal("workflow grouping must lock")
	}
	if (GroupKey{DocumentID: &doc}).RequiresLock() {
		t.Fatal("document grouping must not lock")
	}
	if got := (GroupKey{DocumentID: &doc}).ScopeID(); got != "doc-1" {
		t.Fatalf("scope id: %s", got)
	}
}
