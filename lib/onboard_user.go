package lib

import (
	"context"

	"github.com/fencewatch/fencewatch/config"
	"github.com/fencewatch/fencewatch/lib/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type onboardUser struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func (svc *onboardUser) OnboardUser(ctx context.Context, username, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Active:       true,
	}
	tx := svc.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Create(user)
	if err := tx.Error; err != nil {
		return nil, err
	}

	svc.log.Sugar().Infof("Created user %v (%s)", user.ID, email)
	return user, nil
}

func (svc *onboardUser) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user := &models.User{}
	tx := svc.db.WithContext(ctx).Where("username = ? AND active = ?", username, true).First(user)
	if err := tx.Error; err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}
	return user, nil
}
