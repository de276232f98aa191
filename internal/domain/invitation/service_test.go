package invitation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/domain/patient"
	"github.com/careline/portal/internal/platform/apperror"
	"github.com/careline/portal/internal/platform/identity"
	"github.com/careline/portal/internal/platform/webhook"
)

// -- Mocks --

type mockPatientRepo struct {
	store   map[uuid.UUID]*patient.Patient
	linkErr error
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*patient.Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *patient.Patient) error {
	for _, existing := range m.store {
		if existing.Phone == p.Phone {
			return patient.ErrDuplicatePhone
		}
	}
	p.ID = uuid.New()
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetByPhone(_ context.Context, phone string) (*patient.Patient, error) {
	for _, p := range m.store {
		if p.Phone == phone {
			return p, nil
		}
	}
	return nil, patient.ErrNotFound
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*patient.Patient, error) {
	return nil, patient.ErrNotFound
}

func (m *mockPatientRepo) Update(_ context.Context, p *patient.Patient) error {
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) SetUserID(_ context.Context, id, userID uuid.UUID) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	p, ok := m.store[id]
	if !ok {
		return patient.ErrNotFound
	}
	p.UserID = &userID
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.store, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, _ string, _, _ int) ([]*patient.Patient, int, error) {
	return nil, 0, nil
}

type mockInvitationRepo struct {
	store     map[string]*Invitation
	createErr error
	markErr   error
	markCalls int
}

func newMockInvitationRepo() *mockInvitationRepo {
	return &mockInvitationRepo{store: make(map[string]*Invitation)}
}

func (m *mockInvitationRepo) Create(_ context.Context, inv *Invitation) error {
	if m.createErr != nil {
		return m.createErr
	}
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	m.store[inv.Token] = inv
	return nil
}

func (m *mockInvitationRepo) GetValidByToken(_ context.Context, token string, now time.Time) (*Invitation, error) {
	inv, ok := m.store[token]
	if !ok || !inv.IsValid(now) {
		return nil, ErrNotFound
	}
	return inv, nil
}

func (m *mockInvitationRepo) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.markCalls++
	if m.markErr != nil {
		return m.markErr
	}
	for _, inv := range m.store {
		if inv.ID == id && inv.UsedAt == nil {
			inv.UsedAt = &at
			return nil
		}
	}
	return ErrNotFound
}

type mockIdentities struct {
	users map[string]*identity.User
	err   error
	calls int
}

func newMockIdentities() *mockIdentities {
	return &mockIdentities{users: make(map[string]*identity.User)}
}

func (m *mockIdentities) CreateUser(_ context.Context, u identity.NewUser) (*identity.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.users[u.Phone]; ok {
		return nil, identity.ErrUserExists
	}
	now := time.Now()
	user := &identity.User{
		ID:               uuid.NewString(),
		Phone:            u.Phone,
		PhoneConfirmedAt: &now,
		UserMetadata:     u.Metadata,
		CreatedAt:        now,
	}
	m.users[u.Phone] = user
	return user, nil
}

type mockRoles struct {
	roles map[string][]string
	err   error
}

func (m *mockRoles) AssignRole(_ context.Context, userID, role string) error {
	if m.err != nil {
		return m.err
	}
	if m.roles == nil {
		m.roles = make(map[string][]string)
	}
	m.roles[userID] = append(m.roles[userID], role)
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []SMSPayload
	err    error
}

func (m *mockNotifier) Enqueue(event string, payload any) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, payload.(SMSPayload))
	return nil
}

type fixture struct {
	svc         *Service
	patients    *mockPatientRepo
	invitations *mockInvitationRepo
	identities  *mockIdentities
	roles       *mockRoles
	notifier    *mockNotifier
	now         time.Time
}

func newFixture() *fixture {
	f := &fixture{
		patients:    newMockPatientRepo(),
		invitations: newMockInvitationRepo(),
		identities:  newMockIdentities(),
		roles:       &mockRoles{},
		notifier:    &mockNotifier{},
		now:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.patients, f.invitations, f.identities, f.roles, f.notifier,
		Config{AppBaseURL: "https://portal.example.com/", TTL: DefaultTTL},
		zerolog.Nop(),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func janeRequest() CreateRequest {
	return CreateRequest{FirstName: "Jane", LastName: "Doe", Phone: "+61412345678"}
}

// -- Create --

func TestCreate_IssuesInvitation(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Create(context.Background(), janeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Patient == nil || res.Patient.ID == uuid.Nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(res.Invitation.Token) {
		t.Errorf("expected 32 hex char token, got %q", res.Invitation.Token)
	}
	if want := f.now.Add(7 * 24 * time.Hour); !res.Invitation.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %s, got %s", want, res.Invitation.ExpiresAt)
	}
	wantURL := "https://portal.example.com/activate?token=" + res.Invitation.Token
	if res.Invitation.ActivationURL != wantURL {
		t.Errorf("expected url %q, got %q", wantURL, res.Invitation.ActivationURL)
	}

	if len(f.notifier.events) != 1 {
		t.Fatalf("expected 1 sms queued, got %d", len(f.notifier.events))
	}
	sms := f.notifier.events[0]
	if sms.Phone != "+61412345678" || sms.FirstName != "Jane" || sms.LastName != "Doe" || sms.ActivationURL != wantURL {
		t.Errorf("unexpected sms payload: %+v", sms)
	}
}

func TestCreate_PhoneFormats(t *testing.T) {
	tests := []struct {
		phone string
		ok    bool
	}{
		{"+61412345678", true},
		{"+61112345678", false},
		{"+1234567890", false},
		{"+61412345", false},
	}
	for _, tt := range tests {
		f := newFixture()
		req := janeRequest()
		req.Phone = tt.phone
		_, err := f.svc.Create(context.Background(), req)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.phone, err)
		}
		if !tt.ok && !apperror.IsKind(err, apperror.KindValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.phone, err)
		}
	}
}

func TestCreate_MissingFields(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), CreateRequest{FirstName: "Jane", Phone: "+61412345678"})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.patients.store) != 0 || len(f.invitations.store) != 0 {
		t.Error("expected no writes on validation failure")
	}
}

func TestCreate_DuplicatePhone(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), janeRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.svc.Create(context.Background(), janeRequest())
	appErr, ok := apperror.As(err)
	if !ok || appErr.Status() != 409 {
		t.Fatalf("expected 409, got %v", err)
	}
	if len(f.patients.store) != 1 {
		t.Errorf("expected 1 patient, got %d", len(f.patients.store))
	}
}

func TestCreate_InvitationInsertFailureIsGeneric(t *testing.T) {
	f := newFixture()
	f.invitations.createErr = errors.New("pq: relation patient_invitations does not exist")
	_, err := f.svc.Create(context.Background(), janeRequest())
	code, msg := apperror.Resolve(err)
	if code != 500 {
		t.Fatalf("expected 500, got %d", code)
	}
	if strings.Contains(msg, "relation") {
		t.Errorf("expected generic message, got %q", msg)
	}
	if len(f.notifier.events) != 0 {
		t.Error("expected no sms on failure")
	}
}

func TestCreate_RunsInTransaction(t *testing.T) {
	f := newFixture()
	calls := 0
	f.svc = NewService(f.patients, f.invitations, f.identities, f.roles, f.notifier,
		Config{AppBaseURL: "http://localhost:3000"}, zerolog.Nop(),
		WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			calls++
			return fn(ctx)
		}),
	)
	if _, err := f.svc.Create(context.Background(), janeRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 transaction, got %d", calls)
	}
}

func TestCreate_NotifierFailureIgnored(t *testing.T) {
	f := newFixture()
	f.notifier.err = webhook.ErrQueueFull
	res, err := f.svc.Create(context.Background(), janeRequest())
	if err != nil {
		t.Fatalf("expected success despite sms failure, got %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
}

// -- Validate --

func TestValidate_AfterCreate(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())

	res, err := f.svc.Validate(context.Background(), created.Invitation.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid || res.Patient == nil || res.Patient.ID != created.Patient.ID {
		t.Errorf("expected valid result for created patient, got %+v", res)
	}
}

func TestValidate_MissingToken(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Validate(context.Background(), "  ")
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Validate(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid || res.Error == "" {
		t.Errorf("expected invalid result with error, got %+v", res)
	}
}

func TestValidate_Expired(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())

	f.now = f.now.Add(DefaultTTL + time.Second)
	res, _ := f.svc.Validate(context.Background(), created.Invitation.Token)
	if res.Valid {
		t.Error("expected expired invitation to be invalid")
	}
}

func TestValidate_Used(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	if _, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "s3cretpass"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, _ := f.svc.Validate(context.Background(), created.Invitation.Token)
	if res.Valid {
		t.Error("expected used invitation to be invalid")
	}
}

// -- Activate --

func TestActivate_ShortPasswordNoWrites(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())

	_, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "short"})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.identities.calls != 0 || f.invitations.markCalls != 0 || len(f.roles.roles) != 0 {
		t.Error("expected no writes for short password")
	}
	if f.patients.store[created.Patient.ID].IsLinked() {
		t.Error("expected patient to stay unlinked")
	}
}

func TestActivate_PasswordTooLong(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	_, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: strings.Repeat("a", 73)})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestActivate_MissingFields(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Activate(context.Background(), ActivateRequest{Token: "abc"})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestActivate_EndToEnd(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), janeRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.Invitation.ExpiresAt.Equal(f.now.Add(7 * 24 * time.Hour)) {
		t.Errorf("expected 7 day expiry")
	}

	v, _ := f.svc.Validate(context.Background(), created.Invitation.Token)
	if !v.Valid || v.Patient.FullName() != "Jane Doe" {
		t.Fatalf("expected Jane Doe, got %+v", v)
	}

	res, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !res.Success || res.Message == "" {
		t.Errorf("unexpected result: %+v", res)
	}

	user := f.identities.users["+61412345678"]
	if user == nil || !user.PhoneConfirmed() {
		t.Fatal("expected a phone-confirmed identity")
	}
	if user.UserMetadata["role"] != "patient" {
		t.Errorf("expected role metadata patient, got %v", user.UserMetadata["role"])
	}
	if roles := f.roles.roles[user.ID]; len(roles) != 1 || roles[0] != "patient" {
		t.Errorf("expected patient role, got %v", roles)
	}
	p := f.patients.store[created.Patient.ID]
	if p.UserID == nil || p.UserID.String() != user.ID {
		t.Errorf("expected patient linked to %s, got %v", user.ID, p.UserID)
	}
	if f.invitations.store[created.Invitation.Token].UsedAt == nil {
		t.Error("expected invitation marked used")
	}
}

func TestActivate_Twice(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	req := ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"}

	if _, err := f.svc.Activate(context.Background(), req); err != nil {
		t.Fatalf("first activate: %v", err)
	}
	_, err := f.svc.Activate(context.Background(), req)
	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind != apperror.KindInvalidToken || appErr.Status() != 400 {
		t.Fatalf("expected invalid token 400, got %v", err)
	}
	if appErr.Message != "Invalid or expired invitation" {
		t.Errorf("unexpected message %q", appErr.Message)
	}
	if f.identities.calls != 1 {
		t.Errorf("expected 1 identity creation, got %d", f.identities.calls)
	}
}

func TestActivate_Expired(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"})
	if !apperror.IsKind(err, apperror.KindInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestActivate_IdentityFailure(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	f.identities.err = errors.New("gotrue unavailable")

	_, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"})
	code, _ := apperror.Resolve(err)
	if code != 500 {
		t.Fatalf("expected 500, got %d (%v)", code, err)
	}
	if f.invitations.markCalls != 0 {
		t.Error("expected invitation to remain unused")
	}
}

func TestActivate_ExistingIdentity(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	f.identities.users["+61412345678"] = &identity.User{ID: uuid.NewString(), Phone: "+61412345678"}

	_, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestActivate_BestEffortFailuresStillSucceed(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	f.roles.err = errors.New("user_roles unavailable")
	f.patients.linkErr = errors.New("patients unavailable")

	res, err := f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if f.invitations.store[created.Invitation.Token].UsedAt == nil {
		t.Error("expected invitation marked used even after link failures")
	}
}

func TestActivate_RetryAfterMarkUsedFailureIsFlagged(t *testing.T) {
	f := newFixture()
	var logs strings.Builder
	f.svc.logger = zerolog.New(&logs)
	created, _ := f.svc.Create(context.Background(), janeRequest())
	req := ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"}

	f.invitations.markErr = errors.New("patient_invitations unavailable")
	if _, err := f.svc.Activate(context.Background(), req); err != nil {
		t.Fatalf("first activate: %v", err)
	}
	if f.invitations.store[req.Token].UsedAt != nil {
		t.Fatal("expected invitation to stay unused after the marker failed")
	}

	f.invitations.markErr = nil
	logs.Reset()
	_, err := f.svc.Activate(context.Background(), req)
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error on retry, got %v", err)
	}
	if f.invitations.markCalls != 1 {
		t.Errorf("expected the retry not to replay the used marker, got %d calls", f.invitations.markCalls)
	}
	if f.identities.calls != 2 {
		t.Errorf("expected the retry to reach identity creation, got %d calls", f.identities.calls)
	}

	out := logs.String()
	for _, want := range []string{`"level":"error"`, created.Patient.ID.String(), f.invitations.store[req.Token].ID.String()} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

// -- Resend --

func TestResend(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())

	res, err := f.svc.Resend(context.Background(), created.Patient.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Invitation.Token == created.Invitation.Token {
		t.Error("expected a fresh token")
	}
	if len(f.notifier.events) != 2 {
		t.Errorf("expected 2 sms queued, got %d", len(f.notifier.events))
	}
}

func TestResend_LinkedPatient(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), janeRequest())
	f.svc.Activate(context.Background(), ActivateRequest{Token: created.Invitation.Token, Password: "correct-horse"})

	_, err := f.svc.Resend(context.Background(), created.Patient.ID)
	if !apperror.IsKind(err, apperror.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResend_UnknownPatient(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Resend(context.Background(), uuid.New())
	if !apperror.IsKind(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInvitation_IsValid(t *testing.T) {
	now := time.Now()
	inv := &Invitation{ExpiresAt: now.Add(time.Hour)}
	if !inv.IsValid(now) {
		t.Error("expected unused, unexpired invitation to be valid")
	}
	if inv.IsValid(now.Add(time.Hour)) {
		t.Error("expected invitation invalid at expiry")
	}
	inv.UsedAt = &now
	if inv.IsValid(now) {
		t.Error("expected used invitation to be invalid")
	}
}
