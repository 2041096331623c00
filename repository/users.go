package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the portal user store.
type Users interface {
	repository.Repository[*PortalUser]

	FindRegisteredUser(ctx context.Context, identity auth.RawIdentity) (*auth.RegisteredUser, error)
	GetByProviderUID(ctx context.Context, uid string) (*PortalUser, error)
	GetByProviderUIDTx(ctx context.Context, tx bun.IDB, uid string) (*PortalUser, error)
	Register(ctx context.Context, identity auth.RawIdentity) (*auth.RegisteredUser, error)
	RegisterTx(ctx context.Context, tx bun.IDB, identity auth.RawIdentity) (*auth.RegisteredUser, error)
	IsRegistered(ctx context.Context, uid string) (bool, error)
	LinkPhone(ctx context.Context, identity auth.RawIdentity, cred auth.PhoneCredential) error
}

type users struct {
	repository.Repository[*PortalUser]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                              = (*users)(nil)
	_ auth.UserResolver                  = (*users)(nil)
	_ repository.Repository[*PortalUser] = (*users)(nil)
)

// UsersOption configures the users repository.
type UsersOption func(*users)

// WithUsersClock injects a custom clock (useful for tests).
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewUsersRepository returns the bun backed user store.
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*PortalUser](db, repository.ModelHandlers[*PortalUser]{
		NewRecord: func() *PortalUser { return &PortalUser{} },
		GetID: func(u *PortalUser) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *PortalUser, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	u := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

// FindRegisteredUser implements auth.UserResolver. A missing record is not
// an error.
func (u *users) FindRegisteredUser(ctx context.Context, identity auth.RawIdentity) (*auth.RegisteredUser, error) {
	record, err := u.GetByProviderUID(ctx, identity.UID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record.ToRegisteredUser(), nil
}

func (u *users) GetByProviderUID(ctx context.Context, uid string) (*PortalUser, error) {
	return u.GetByProviderUIDTx(ctx, u.db, uid)
}

func (u *users) GetByProviderUIDTx(ctx context.Context, tx bun.IDB, uid string) (*PortalUser, error) {
	record := &PortalUser{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider_uid = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider_uid": uid,
				})
		}
		return nil, err
	}
	return record, nil
}

// Register creates the account for identity. Registering an identity that
// already has an account returns the existing one.
func (u *users) Register(ctx context.Context, identity auth.RawIdentity) (*auth.RegisteredUser, error) {
	return u.RegisterTx(ctx, u.db, identity)
}

func (u *users) RegisterTx(ctx context.Context, tx bun.IDB, identity auth.RawIdentity) (*auth.RegisteredUser, error) {
	if identity.UID == "" {
		return nil, goerrors.New("identity uid is required", goerrors.CategoryValidation).
			WithTextCode("IDENTITY_REQUIRED").
			WithCode(goerrors.CodeBadRequest)
	}

	existing, err := u.GetByProviderUIDTx(ctx, tx, identity.UID)
	if err == nil {
		return existing.ToRegisteredUser(), nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	id, err := userID(identity)
	if err != nil {
		return nil, err
	}
	now := u.now()
	record := &PortalUser{
		ID:          id,
		ProviderUID: identity.UID,
		ProviderID:  identity.ProviderID,
		DisplayName: identity.DisplayName,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}

	created, err := u.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		return nil, err
	}
	return created.ToRegisteredUser(), nil
}

// IsRegistered reports whether uid has an account.
func (u *users) IsRegistered(ctx context.Context, uid string) (bool, error) {
	if uid == "" {
		return false, nil
	}
	count, err := u.db.NewSelect().
		Model((*PortalUser)(nil)).
		Where("?TableAlias.provider_uid = ?", uid).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LinkPhone stores the phone identity and marks the account verified in
// one transaction.
func (u *users) LinkPhone(ctx context.Context, identity auth.RawIdentity, cred auth.PhoneCredential) error {
	if cred.PhoneUID == "" || cred.PhoneNumber == "" {
		return auth.ErrLinkIncomplete.Clone().WithMetadata(map[string]any{
			"reason": "incomplete phone credential",
		})
	}

	return u.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := u.GetByProviderUIDTx(ctx, tx, identity.UID)
		if err != nil {
			if isNotFound(err) {
				return auth.ErrLinkIncomplete.Clone().WithMetadata(map[string]any{
					"reason": "identity not registered",
					"uid":    identity.UID,
				})
			}
			return err
		}

		existing := &PhoneIdentity{}
		err = tx.NewSelect().
			Model(existing).
			Where("?TableAlias.phone_uid = ?", cred.PhoneUID).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil && existing.UserID != record.ID:
			return auth.ErrLinkIncomplete.Clone().WithMetadata(map[string]any{
				"reason": "phone already linked to another account",
			})
		case err == nil:
		case isNotFound(err):
			if _, err := tx.NewInsert().Model(&PhoneIdentity{
				ID:          uuid.New(),
				UserID:      record.ID,
				PhoneUID:    cred.PhoneUID,
				PhoneNumber: cred.PhoneNumber,
				LinkedAt:    u.now(),
			}).Exec(ctx); err != nil {
				return err
			}
		default:
			return err
		}

		_, err = tx.NewUpdate().
			Model((*PortalUser)(nil)).
			Set("phone_number = ?", cred.PhoneNumber).
			Set("phone_uid = ?", cred.PhoneUID).
			Set("phone_verified = ?", true).
			Set("updated_at = ?", u.now()).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

// CreateSchema creates the portal tables when they do not exist.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range []any{(*PortalUser)(nil), (*PhoneIdentity)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func userID(identity auth.RawIdentity) (uuid.UUID, error) {
	return hashid.NewUUID(identity.ProviderID + ":" + identity.UID)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
