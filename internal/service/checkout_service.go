package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/repository"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
)

const (
	checkoutFunction = "create-checkout-session"
	defaultPriceID   = "price_LIFETIME_299"
)

type checkoutRequest struct {
	PriceID   string `json:"price_id"`
	ReturnURL string `json:"return_url"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// CheckoutResult Simulated 为真时没有跳转地址，会员已直接开通
type CheckoutResult struct {
	URL       string            `json:"url,omitempty"`
	Simulated bool              `json:"simulated"`
	Profile   *game.UserProfile `json:"profile,omitempty"`
}

type CheckoutService struct {
	backend *BackendClient
	store   *GameStore
	cfg     config.PaymentsConfig
}

func NewCheckoutService(backend *BackendClient, store *GameStore, cfg config.PaymentsConfig) *CheckoutService {
	if cfg.PriceID == "" {
		cfg.PriceID = defaultPriceID
	}
	return &CheckoutService{backend: backend, store: store, cfg: cfg}
}

// Start 创建支付会话。远程函数不可用且允许模拟时直接开通会员
func (s *CheckoutService) Start(ctx context.Context, userID, returnURL string) (CheckoutResult, error) {
	if returnURL == "" {
		returnURL = s.cfg.ReturnURL
	}

	var resp checkoutResponse
	err := s.backend.InvokeFunction(ctx, checkoutFunction, checkoutRequest{PriceID: s.cfg.PriceID, ReturnURL: returnURL}, &resp)
	if err == nil && resp.URL != "" {
		return CheckoutResult{URL: resp.URL}, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: checkout session creation failed", util.ErrFunctionUnavailable)
	}

	if !s.cfg.Simulate {
		logger.Log.Error("Checkout failed", zap.String("userID", userID), zap.Error(err))
		return CheckoutResult{}, fmt.Errorf("%w: %v", util.ErrCheckoutUnavailable, err)
	}

	logger.Log.Warn("Payment backend unavailable, using simulation mode", zap.String("userID", userID), zap.Error(err))
	u, err := s.store.SetPremium(ctx, userID)
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Simulated: true, Profile: &u}, nil
}

// Confirm 支付回调确认后直接写库，并通过实时频道通知在线会话
func (s *CheckoutService) Confirm(ctx context.Context, userID string) error {
	if err := s.backend.Profiles.SetPremium(ctx, userID); err != nil {
		return err
	}
	row, err := s.backend.Profiles.FindByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return fmt.Errorf("%w: profile %s", util.ErrUserNotFound, userID)
		}
		return err
	}

	gam := model.NewGamificationRow(userID)
	if g, err := s.backend.Gamification.FindByUserID(ctx, userID); err == nil {
		gam = *g
	} else if !errors.Is(err, context.Canceled) && !repository.IsNotFound(err) {
		logger.Log.Warn("Failed to read gamification row", zap.String("userID", userID), zap.Error(err))
	}

	u := model.MergeProfile(game.DefaultProfile(), *row, gam, "")
	record, err := json.Marshal(u)
	if err != nil {
		return err
	}
	s.backend.Publish(ctx, ChangeEvent{
		Table:    "profiles",
		Type:     ChangeUpdate,
		UserID:   userID,
		EntityID: userID,
		Version:  row.Version,
		Record:   record,
		At:       time.Now(),
	})
	logger.Log.Info("Premium confirmed", zap.String("userID", userID))
	return nil
}
