package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/internal/users"
	"github.com/amaldonado/streamlane-backend/pkg/config"
	"github.com/amaldonado/streamlane-backend/pkg/db"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/security"
)

// Free placeholders roll over on this cadence so usage quotas reset like a
// billed period would.
const freePeriodLength = 30 * 24 * time.Hour

// RegisterRequest contains the payload required for creating a new account.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"required"`
}

// RegisterService handles the onboarding transaction.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) error
}

type registerTxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type registerUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

type registerBillingRepository interface {
	FindFreePlan(ctx context.Context) (*models.Plan, error)
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
}

// RegisterServiceParams packages the dependencies for the registration flow.
type RegisterServiceParams struct {
	TxRunner           registerTxRunner
	UserRepoFactory    func(tx *gorm.DB) registerUserRepository
	BillingRepoFactory func(tx *gorm.DB) registerBillingRepository
	PasswordConfig     config.PasswordConfig
}

type registerService struct {
	tx          registerTxRunner
	userRepo    func(tx *gorm.DB) registerUserRepository
	billingRepo func(tx *gorm.DB) registerBillingRepository
	passwordCfg config.PasswordConfig
}

// NewRegisterService builds a registration service with the provided dependencies.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.UserRepoFactory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repository factory required")
	}
	if params.BillingRepoFactory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repository factory required")
	}
	return &registerService{
		tx:          params.TxRunner,
		userRepo:    params.UserRepoFactory,
		billingRepo: params.BillingRepoFactory,
		passwordCfg: params.PasswordConfig,
	}, nil
}

// NewRegisterServiceFromDB wires the registration flow over the shared database client.
func NewRegisterServiceFromDB(client *db.Client, passwordCfg config.PasswordConfig) (RegisterService, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database client required")
	}
	return NewRegisterService(RegisterServiceParams{
		TxRunner: client,
		UserRepoFactory: func(tx *gorm.DB) registerUserRepository {
			return users.NewRepository(tx)
		},
		BillingRepoFactory: func(tx *gorm.DB) registerBillingRepository {
			return billing.NewRepository(tx)
		},
		PasswordConfig: passwordCfg,
	})
}

// Register creates the user and seats them on the free tier in one transaction.
// The placeholder subscription keeps the usage guard working before any
// checkout happens; it carries a synthetic id the billing layer refuses to
// send to the provider.
func (s *registerService) Register(ctx context.Context, req RegisterRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "display_name is required")
	}

	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := s.userRepo(tx)
		billingRepo := s.billingRepo(tx)

		if _, err := userRepo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}

		user, err := userRepo.Create(ctx, users.CreateUserDTO{
			Email:        email,
			PasswordHash: passwordHash,
			DisplayName:  strings.TrimSpace(req.DisplayName),
		})
		if err != nil {
			// A concurrent signup can slip past the pre-check; the unique
			// index on email is the backstop.
			if db.IsUniqueViolation(err, "users_email_key") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}

		freePlan, err := billingRepo.FindFreePlan(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup free plan")
		}
		if freePlan == nil {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "free plan is not configured")
		}

		if err := billingRepo.CreateSubscription(ctx, newFreeSubscription(user.ID, freePlan.ID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create free subscription")
		}

		return nil
	})
}

func newFreeSubscription(userID uuid.UUID, planID string) *models.Subscription {
	now := time.Now().UTC()
	return &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: models.NewFreeSubscriptionID(),
		PlanID:               planID,
		Status:               enums.SubscriptionStatusActive,
		IsActive:             true,
		CurrentPeriodStart:   &now,
		CurrentPeriodEnd:     now.Add(freePeriodLength),
	}
}
