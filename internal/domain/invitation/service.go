package invitation

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careline/portal/internal/domain/patient"
	"github.com/careline/portal/internal/platform/apperror"
	"github.com/careline/portal/internal/platform/auth"
	"github.com/careline/portal/internal/platform/identity"
	"github.com/careline/portal/internal/platform/metrics"
	"github.com/careline/portal/internal/platform/webhook"
)

const (
	// EventInvitationSMS is the webhook event name for activation SMS.
	EventInvitationSMS = "patient.invitation"

	msgInvalidToken = "Invalid or expired invitation"
)

// Notifier queues an outbound webhook. webhook.Dispatcher satisfies it.
type Notifier interface {
	Enqueue(event string, payload any) error
}

// RoleAssigner grants application roles. identity.RoleStore satisfies it.
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID, role string) error
}

// TxFunc runs fn inside a store transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

type Config struct {
	AppBaseURL string
	TTL        time.Duration
}

type Service struct {
	patients    patient.Repository
	invitations Repository
	identities  identity.Provider
	roles       RoleAssigner
	notifier    Notifier
	cfg         Config
	logger      zerolog.Logger
	tx          TxFunc
	now         func() time.Time
}

type Option func(*Service)

// WithTx makes patient and invitation creation atomic.
func WithTx(tx TxFunc) Option {
	return func(s *Service) { s.tx = tx }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	patients patient.Repository,
	invitations Repository,
	identities identity.Provider,
	roles RoleAssigner,
	notifier Notifier,
	cfg Config,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	s := &Service{
		patients:    patients,
		invitations: invitations,
		identities:  identities,
		roles:       roles,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger.With().Str("component", "invitation").Logger(),
		tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create registers a new patient and issues their first invitation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	p := req.toPatient()
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := patient.CheckPhoneAvailable(ctx, s.patients, p.Phone); err != nil {
		return nil, err
	}

	var inv *Invitation
	err := s.tx(ctx, func(ctx context.Context) error {
		if err := s.patients.Create(ctx, p); err != nil {
			return patient.TranslateError(err)
		}
		var err error
		inv, err = s.issue(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.deliver(p, inv), nil
}

// Resend issues a fresh invitation for an existing patient that has not
// activated an account yet. Earlier invitations stay valid until expiry.
func (s *Service) Resend(ctx context.Context, patientID uuid.UUID) (*CreateResult, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, patient.TranslateError(err)
	}
	if p.IsLinked() {
		return nil, apperror.Conflict("Patient already has an activated account", nil)
	}
	inv, err := s.issue(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return s.deliver(p, inv), nil
}

func (s *Service) issue(ctx context.Context, patientID uuid.UUID) (*Invitation, error) {
	token, err := generateToken()
	if err != nil {
		return nil, apperror.Persistence("", err)
	}
	inv := &Invitation{
		PatientID: patientID,
		Token:     token,
		ExpiresAt: s.now().Add(s.cfg.TTL),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, apperror.Persistence("", err)
	}
	return inv, nil
}

// deliver queues the activation SMS and builds the response. Dispatch
// failures are logged and never reach the caller.
func (s *Service) deliver(p *patient.Patient, inv *Invitation) *CreateResult {
	link := ActivationURL(s.cfg.AppBaseURL, inv.Token)
	metrics.RecordInvitationCreated()

	err := s.notifier.Enqueue(EventInvitationSMS, SMSPayload{
		Phone:         p.Phone,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		ActivationURL: link,
	})
	if err != nil && !errors.Is(err, webhook.ErrDisabled) {
		s.logger.Error().Err(err).
			Str("patient_id", p.ID.String()).
			Str("invitation_id", inv.ID.String()).
			Msg("failed to queue invitation sms")
	}

	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("invitation_id", inv.ID.String()).
		Time("expires_at", inv.ExpiresAt).
		Msg("invitation issued")

	return &CreateResult{
		Success: true,
		Patient: p,
		Invitation: Issued{
			Token:         inv.Token,
			ExpiresAt:     inv.ExpiresAt,
			ActivationURL: link,
		},
	}
}

// Validate reports whether token can be activated. An unusable token is a
// result, not an error; only a missing token is rejected.
func (s *Service) Validate(ctx context.Context, token string) (*ValidateResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.Validation("Token is required")
	}

	_, p, err := s.lookup(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, patient.ErrNotFound) {
			s.logger.Error().Err(err).Msg("invitation lookup failed")
		}
		return &ValidateResult{Valid: false, Error: msgInvalidToken}, nil
	}
	return &ValidateResult{Valid: true, Patient: p}, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*Invitation, *patient.Patient, error) {
	inv, err := s.invitations.GetValidByToken(ctx, token, s.now())
	if err != nil {
		return nil, nil, err
	}
	p, err := s.patients.GetByID(ctx, inv.PatientID)
	if err != nil {
		return nil, nil, err
	}
	return inv, p, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperror.Validationf("Password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return apperror.Validationf("Password must be at most %d bytes", MaxPasswordBytes)
	}
	return nil
}

// Activate turns a valid invitation into an account. The identity is the
// primary write; the role grant, patient link and used marker that follow
// are best-effort and only logged on failure. A retry after such a failure
// stops at the existing identity and does not redo them.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" || req.Password == "" {
		return nil, apperror.Validation("Token and password are required")
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	inv, p, err := s.lookup(ctx, token)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, patient.ErrNotFound):
		return nil, apperror.InvalidToken(msgInvalidToken)
	case err != nil:
		return nil, apperror.Persistence("", err)
	}

	user, err := s.identities.CreateUser(ctx, identity.NewUser{
		Phone:    p.Phone,
		Password: req.Password,
		Metadata: map[string]any{
			"role":       auth.RolePatient,
			"patient_id": p.ID.String(),
			"first_name": p.FirstName,
			"last_name":  p.LastName,
		},
	})
	switch {
	case errors.Is(err, identity.ErrUserExists):
		// A still-valid token with an existing account means an earlier
		// activation stopped after creating the identity. The remaining
		// steps are not replayed here; support has to finish the link.
		metrics.RecordActivationFailure("identity_exists")
		s.logger.Error().
			Str("patient_id", p.ID.String()).
			Str("invitation_id", inv.ID.String()).
			Msg("activation: account already exists for a valid invitation, earlier activation left incomplete")
		return nil, apperror.Validation("An account already exists for this phone number")
	case err != nil:
		return nil, apperror.Persistence("Failed to create account", err)
	}
	metrics.RecordInvitationActivated()

	// The account exists from here on; finish linking even if the client
	// has gone away.
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With().
		Str("user_id", user.ID).
		Str("patient_id", p.ID.String()).
		Str("invitation_id", inv.ID.String()).
		Logger()

	if err := s.roles.AssignRole(ctx, user.ID, auth.RolePatient); err != nil {
		metrics.RecordActivationFailure("role")
		log.Error().Err(err).Msg("activation: failed to assign patient role")
	}

	userID, err := uuid.Parse(user.ID)
	if err == nil {
		err = s.patients.SetUserID(ctx, p.ID, userID)
	}
	if err != nil {
		metrics.RecordActivationFailure("patient_link")
		log.Error().Err(err).Msg("activation: failed to link patient to account")
	}

	if err := s.invitations.MarkUsed(ctx, inv.ID, s.now()); err != nil {
		metrics.RecordActivationFailure("mark_used")
		log.Error().Err(err).Msg("activation: failed to mark invitation used")
	}

	log.Info().Msg("patient account activated")
	return &ActivateResult{Success: true, Message: "Account activated successfully"}, nil
}
