package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/repository"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// BackendClient 远端数据访问的统一入口：各表仓储、实时频道、文件存储与远程函数
type BackendClient struct {
	DB           *gorm.DB
	Users        *repository.UserRepository
	Profiles     *repository.ProfileRepository
	Gamification *repository.GamificationRepository
	Tasks        *repository.TaskRepository
	Projects     *repository.ProjectRepository
	Skills       *repository.SkillRepository
	Business     *repository.BusinessRepository
	Fitness      *repository.FitnessRepository
	Snapshots    *repository.SnapshotRepository
	Journal      *repository.JournalRepository
	Outbox       *repository.OutboxRepository

	Hub       *RealtimeHub
	Storage   *StorageService
	Functions config.FunctionsConfig
	HTTP      *http.Client
}

func NewBackendClient(db *gorm.DB, hub *RealtimeHub, storage *StorageService, functions config.FunctionsConfig) *BackendClient {
	timeout := functions.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b := &BackendClient{
		Hub:       hub,
		Storage:   storage,
		Functions: functions,
		HTTP:      &http.Client{Timeout: timeout},
	}
	b.bind(db)
	return b
}

func (b *BackendClient) bind(db *gorm.DB) {
	b.DB = db
	b.Users = repository.NewUserRepository(db)
	b.Profiles = repository.NewProfileRepository(db)
	b.Gamification = repository.NewGamificationRepository(db)
	b.Tasks = repository.NewTaskRepository(db)
	b.Projects = repository.NewProjectRepository(db)
	b.Skills = repository.NewSkillRepository(db)
	b.Business = repository.NewBusinessRepository(db)
	b.Fitness = repository.NewFitnessRepository(db)
	b.Snapshots = repository.NewSnapshotRepository(db)
	b.Journal = repository.NewJournalRepository(db)
	b.Outbox = repository.NewOutboxRepository(db)
}

// Transaction fn 中拿到的客户端所有仓储都绑定在同一个事务上
func (b *BackendClient) Transaction(ctx context.Context, fn func(tx *BackendClient) error) error {
	return b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := *b
		scoped.bind(tx)
		return fn(&scoped)
	})
}

// RemoteSnapshot 一个用户在远端的全部数据
type RemoteSnapshot struct {
	Profile      *model.Profile
	Gamification *model.Gamification
	Tasks        []model.Task
	Projects     []model.Project
	Skills       []model.SkillLevel
	Business     []model.BusinessField
	Fitness      *model.FitnessMetric
	Snapshots    []model.UserSnapshot

	// SchemaMissing 除资料表以外的某张表不存在
	SchemaMissing bool
}

// LoadSnapshot 并行读取用户的所有表。单表失败只记录日志并使用空值，
// 只有资料表不存在时返回 util.ErrSchemaMissing
func (b *BackendClient) LoadSnapshot(ctx context.Context, userID string) (*RemoteSnapshot, error) {
	snap := &RemoteSnapshot{}
	errs := make([]error, 8)
	var g errgroup.Group

	g.Go(func() error {
		p, err := b.Profiles.FindByID(ctx, userID)
		if err == nil {
			snap.Profile = p
		} else if !repository.IsNotFound(err) {
			errs[0] = err
		}
		return nil
	})
	g.Go(func() error {
		gm, err := b.Gamification.FindByUserID(ctx, userID)
		if err == nil {
			snap.Gamification = gm
		} else if !repository.IsNotFound(err) {
			errs[1] = err
		}
		return nil
	})
	g.Go(func() error {
		snap.Tasks, errs[2] = b.Tasks.ListByUser(ctx, userID)
		return nil
	})
	g.Go(func() error {
		snap.Projects, errs[3] = b.Projects.ListByUser(ctx, userID)
		return nil
	})
	g.Go(func() error {
		snap.Skills, errs[4] = b.Skills.ListByUser(ctx, userID)
		return nil
	})
	g.Go(func() error {
		snap.Business, errs[5] = b.Business.ListByUser(ctx, userID)
		return nil
	})
	g.Go(func() error {
		snap.Fitness, errs[6] = b.Fitness.Latest(ctx, userID)
		return nil
	})
	g.Go(func() error {
		snap.Snapshots, errs[7] = b.Snapshots.ListByUser(ctx, userID)
		return nil
	})
	g.Wait()

	if errs[0] != nil {
		if repository.IsSchemaMissing(errs[0]) {
			return nil, util.ErrSchemaMissing
		}
		return nil, errs[0]
	}

	for i, err := range errs[1:] {
		if err == nil {
			continue
		}
		logger.Log.Warn("Remote read failed, using defaults",
			zap.String("userID", userID),
			zap.Int("index", i+1),
			zap.Error(err))
		if repository.IsSchemaMissing(err) {
			snap.SchemaMissing = true
		}
	}
	return snap, nil
}

// EnsureProfile 首次登录时创建资料与经验行。经验行创建失败只记录警告
func (b *BackendClient) EnsureProfile(ctx context.Context, userID, displayName string) (*model.Profile, *model.Gamification, error) {
	profile := model.NewProfileRow(userID, displayName)
	if err := b.Profiles.Create(ctx, &profile); err != nil {
		logger.Log.Error("Failed to create profile", zap.String("userID", userID), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: %v", util.ErrProfileInit, err)
	}

	gam := model.NewGamificationRow(userID)
	if err := b.Gamification.Create(ctx, &gam); err != nil {
		logger.Log.Warn("Failed to create gamification entry", zap.String("userID", userID), zap.Error(err))
	}
	return &profile, &gam, nil
}

// UploadImage 保存用户图片，未配置存储时报错
func (b *BackendClient) UploadImage(ctx context.Context, userID, kind string, data []byte) (StoredFile, error) {
	if b.Storage == nil {
		return StoredFile{}, fmt.Errorf("storage not configured")
	}
	return b.Storage.UploadImage(ctx, userID, kind, data)
}

// DeleteFile 删除失败只记录日志
func (b *BackendClient) DeleteFile(ctx context.Context, key string) {
	if b.Storage == nil || key == "" {
		return
	}
	if err := b.Storage.Delete(ctx, key); err != nil {
		logger.Log.Warn("Failed to delete stored file", zap.String("key", key), zap.Error(err))
	}
}

// InvokeFunction 以 JSON 调用远程函数 POST {base_url}/{name}
func (b *BackendClient) InvokeFunction(ctx context.Context, name string, body, out interface{}) error {
	if b.Functions.BaseURL == "" {
		return fmt.Errorf("%w: functions.base_url not configured", util.ErrFunctionUnavailable)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimRight(b.Functions.BaseURL, "/") + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.Functions.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.Functions.APIKey)
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrFunctionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s returned status %d: %s", util.ErrFunctionUnavailable, name, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Publish 实时频道不可用时只记录日志
func (b *BackendClient) Publish(ctx context.Context, ev ChangeEvent) {
	if b.Hub == nil {
		return
	}
	if err := b.Hub.Publish(ctx, ev); err != nil {
		logger.Log.Warn("Failed to publish change event",
			zap.String("table", ev.Table),
			zap.String("entityID", ev.EntityID),
			zap.Error(err))
	}
}
