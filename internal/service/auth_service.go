package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/repository"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

// AuthEvent 登录结果附带的事件，客户端据此决定下一步
type AuthEvent string

const (
	EventSignedIn         AuthEvent = "SIGNED_IN"
	EventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)

const minPasswordLength = 6

// AuthSession 登录成功后返回给客户端的会话
type AuthSession struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Event       AuthEvent   `json:"event"`
	User        *model.User `json:"user"`
}

// Mailer 发送登录链接与找回密码邮件
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer 只把邮件写进日志，开发环境使用
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger.Log.Info("Mail delivered to log",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

type oauthProvider struct {
	config      *oauth2.Config
	userInfoURL string
	// primaryEmail 从用户信息接口的响应中取出邮箱
	primaryEmail func(body []byte) (string, error)
}

type AuthService struct {
	Users  *repository.UserRepository
	Redis  *redis.Client
	Cfg    *config.Config
	Mailer Mailer

	providers map[string]*oauthProvider
	now       func() time.Time
}

func NewAuthService(users *repository.UserRepository, rdb *redis.Client, cfg *config.Config, mailer Mailer) *AuthService {
	if mailer == nil {
		mailer = LogMailer{}
	}
	s := &AuthService{
		Users:     users,
		Redis:     rdb,
		Cfg:       cfg,
		Mailer:    mailer,
		providers: make(map[string]*oauthProvider),
		now:       time.Now,
	}

	callback := func(name string) string {
		return strings.TrimRight(cfg.Server.BaseURL, "/") + "/api/auth/oauth/" + name + "/callback"
	}
	if p, ok := cfg.Auth.OAuth["google"]; ok && p.ClientID != "" {
		s.providers[string(model.ProviderGoogle)] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				Endpoint:     google.Endpoint,
				RedirectURL:  callback("google"),
				Scopes:       []string{"openid", "email", "profile"},
			},
			userInfoURL:  "https://www.googleapis.com/oauth2/v2/userinfo",
			primaryEmail: googleEmail,
		}
	}
	if p, ok := cfg.Auth.OAuth["github"]; ok && p.ClientID != "" {
		s.providers[string(model.ProviderGitHub)] = &oauthProvider{
			config: &oauth2.Config{
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				Endpoint:     github.Endpoint,
				RedirectURL:  callback("github"),
				Scopes:       []string{"read:user", "user:email"},
			},
			userInfoURL:  "https://api.github.com/user/emails",
			primaryEmail: githubEmail,
		}
	}
	return s
}

func googleEmail(body []byte) (string, error) {
	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", err
	}
	return info.Email, nil
}

func githubEmail(body []byte) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return "", nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", util.ErrValidation)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", util.ErrValidation, minPasswordLength)
	}
	return nil
}

// randomToken 一次性令牌。Redis 中只保存它的摘要
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func magicLinkKey(token string) string { return "auth:magic:" + tokenDigest(token) }
func recoveryKey(token string) string  { return "auth:recovery:" + tokenDigest(token) }
func oauthStateKey(state string) string {
	return "auth:oauth_state:" + tokenDigest(state)
}
func revokedKey(jti string) string { return "auth:revoked:" + jti }

// consume 读取并删除一次性令牌
func (s *AuthService) consume(ctx context.Context, key string) (string, error) {
	val, err := s.Redis.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", util.ErrTokenInvalid
	}
	return val, err
}

func (s *AuthService) issue(ctx context.Context, user *model.User, event AuthEvent) (*AuthSession, error) {
	token, err := util.GenerateJWT(user, s.Cfg.JWT.Secret, s.Cfg.JWT.ExpireTime)
	if err != nil {
		return nil, err
	}
	if err := s.Users.TouchLogin(ctx, user.ID); err != nil {
		logger.Log.Warn("Failed to update last login", zap.String("userID", user.ID), zap.Error(err))
	}
	return &AuthSession{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   s.now().Add(s.Cfg.JWT.ExpireTime),
		Event:       event,
		User:        user,
	}, nil
}

func (s *AuthService) SignUp(ctx context.Context, email, password string) (*AuthSession, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	_, err = s.Users.FindByEmail(ctx, email)
	if err == nil {
		return nil, util.ErrEmailRegistered
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &model.User{Email: email, Password: string(hashed), Provider: model.ProviderEmail}
	if err := s.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	logger.Log.Info("User signed up", zap.String("userID", user.ID))
	return s.issue(ctx, user, EventSignedIn)
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthSession, error) {
	user, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Password == "" {
		return nil, util.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, util.ErrInvalidCredentials
	}
	return s.issue(ctx, user, EventSignedIn)
}

// link 客户端回调地址加上查询参数
func (s *AuthService) link(params url.Values) string {
	base := s.Cfg.Auth.RedirectURL
	if base == "" {
		base = s.Cfg.Server.BaseURL
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

// SendMagicLink 发送一次性登录链接，邮箱不存在时验证后自动注册
func (s *AuthService) SendMagicLink(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	token, err := randomToken()
	if err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, magicLinkKey(token), email, s.Cfg.Auth.MagicLinkTTL).Err(); err != nil {
		return err
	}
	link := s.link(url.Values{"type": {"magiclink"}, "token": {token}})
	return s.Mailer.Send(ctx, email, "Your NovaProgress login link", "Sign in: "+link)
}

func (s *AuthService) VerifyMagicLink(ctx context.Context, token string) (*AuthSession, error) {
	email, err := s.consume(ctx, magicLinkKey(token))
	if err != nil {
		return nil, err
	}
	user, err := s.findOrCreate(ctx, email, model.ProviderMagicLink)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, EventSignedIn)
}

// RequestRecovery 发送重置密码链接。邮箱未注册时静默返回，不暴露账号是否存在
func (s *AuthService) RequestRecovery(ctx context.Context, email string) error {
	user, err := s.Users.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	token, err := randomToken()
	if err != nil {
		return err
	}
	if err := s.Redis.Set(ctx, recoveryKey(token), user.ID, s.Cfg.Auth.RecoveryTTL).Err(); err != nil {
		return err
	}
	link := s.link(url.Values{"type": {"recovery"}, "token": {token}})
	return s.Mailer.Send(ctx, user.Email, "Reset your NovaProgress password", "Reset: "+link)
}

// ResetPassword 使用找回令牌设置新密码，成功后直接登录
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) (*AuthSession, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	userID, err := s.consume(ctx, recoveryKey(token))
	if err != nil {
		return nil, err
	}
	user, err := s.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, util.ErrTokenInvalid
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if err := s.Users.UpdatePassword(ctx, user.ID, string(hashed)); err != nil {
		return nil, err
	}
	user.Password = string(hashed)
	return s.issue(ctx, user, EventPasswordRecovery)
}

// OAuthURL 第三方登录跳转地址，state 存入 Redis 十分钟
func (s *AuthService) OAuthURL(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", util.ErrUnsupportedProvider
	}
	state, err := randomToken()
	if err != nil {
		return "", err
	}
	if err := s.Redis.Set(ctx, oauthStateKey(state), provider, 10*time.Minute).Err(); err != nil {
		return "", err
	}
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

func (s *AuthService) OAuthCallback(ctx context.Context, provider, state, code string) (*AuthSession, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, util.ErrUnsupportedProvider
	}
	saved, err := s.consume(ctx, oauthStateKey(state))
	if err != nil {
		return nil, err
	}
	if saved != provider {
		return nil, util.ErrTokenInvalid
	}

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}
	email, err := s.fetchEmail(ctx, p, tok)
	if err != nil {
		return nil, err
	}
	user, err := s.findOrCreate(ctx, email, model.AuthProvider(provider))
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user, EventSignedIn)
}

func (s *AuthService) fetchEmail(ctx context.Context, p *oauthProvider, tok *oauth2.Token) (string, error) {
	client := p.config.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo request failed: %s", resp.Status)
	}
	email, err := p.primaryEmail(body)
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", fmt.Errorf("%w: provider returned no email", util.ErrValidation)
	}
	return email, nil
}

func (s *AuthService) findOrCreate(ctx context.Context, email string, provider model.AuthProvider) (*model.User, error) {
	user, err := s.Users.FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	user = &model.User{Email: email, Provider: provider}
	if err := s.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	logger.Log.Info("User created", zap.String("userID", user.ID), zap.String("provider", string(provider)))
	return user, nil
}

// CurrentUser 当前会话对应的账号。开发免登录的用户没有账号记录，返回临时对象
func (s *AuthService) CurrentUser(ctx context.Context, claims *util.Claims) (*model.User, error) {
	user, err := s.Users.FindByID(ctx, claims.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) && s.Cfg.Auth.DevBypass {
		u := &model.User{Email: claims.Email, Provider: claims.Provider}
		u.ID = claims.UserID
		return u, nil
	}
	return user, err
}

// Revoke 登出后令牌在剩余有效期内失效
func (s *AuthService) Revoke(ctx context.Context, claims *util.Claims) error {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.Redis.Set(ctx, revokedKey(claims.ID), 1, ttl).Err()
}

// IsRevoked Redis 不可用时按未吊销处理
func (s *AuthService) IsRevoked(ctx context.Context, jti string) bool {
	if jti == "" {
		return false
	}
	n, err := s.Redis.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		logger.Log.Warn("Failed to check revoked token", zap.Error(err))
		return false
	}
	return n > 0
}

// DevUserID 开发免登录用户的固定 ID，由邮箱派生
func DevUserID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("nova-dev:"+strings.ToLower(email))).String()
}
