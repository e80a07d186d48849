package service

import (
	"context"
	"encoding/base64"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/util"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func newLocalStorage(t *testing.T) (*StorageService, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{Type: util.StorageLocal, LocalPath: dir}}
	svc := NewStorageService(cfg)
	svc.TempDir = t.TempDir()
	return svc, dir
}

func TestUploadImageStoresFile(t *testing.T) {
	svc, dir := newLocalStorage(t)
	data, err := base64.StdEncoding.DecodeString(onePixelPNG)
	require.NoError(t, err)

	f, err := svc.UploadImage(context.Background(), "u1", "avatar", data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.URL, "/uploads/users/u1/avatar-"))
	assert.Contains(t, []string{"image/png", "image/jpeg"}, f.Mime)

	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(f.Key)))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), f.Key))
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(f.Key)))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadImageRejectsNonImages(t *testing.T) {
	svc, _ := newLocalStorage(t)
	_, err := svc.UploadImage(context.Background(), "u1", "avatar", []byte("just some text, not a picture"))
	assert.ErrorIs(t, err, util.ErrValidation)
	assert.ErrorIs(t, err, util.ErrInvalidFileType)
}

func TestUploadAvatarUpdatesProfile(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	svc, _ := newLocalStorage(t)
	env.backend.Storage = svc
	loadUser(t, store, "u1")

	data, err := base64.StdEncoding.DecodeString(onePixelPNG)
	require.NoError(t, err)
	u, err := store.UploadAvatar(ctx, "u1", data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u.AvatarURL, "/uploads/users/u1/avatar-"))

	st, err := store.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u.AvatarURL, st.State.User.AvatarURL)
}
