package service

import (
	"context"
	"edu_social_backend/internal/model"
	"edu_social_backend/internal/repository"
	"fmt"
	"io"
	"time"
)

// UserService 用户展示数据：个人资料与头像。
// 好友列表和搜索结果水合的展示字段来自这里维护的数据。
type UserService struct {
	UserRepo *repository.UserRepository
	Storage  *StorageService
}

func NewUserService(userRepo *repository.UserRepository, storage *StorageService) *UserService {
	return &UserService{
		UserRepo: userRepo,
		Storage:  storage,
	}
}

func (s *UserService) Profile(userID uint) (*model.User, error) {
	user, err := s.UserRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	user.Password = ""
	return user, nil
}

// UpdateAvatar 上传头像并更新用户记录，返回可访问的URL
func (s *UserService) UpdateAvatar(ctx context.Context, userID uint, ext string, reader io.Reader, size int64, contentType string) (string, error) {
	filename := fmt.Sprintf("avatars/%d_%d%s", userID, time.Now().Unix(), ext)
	url, err := s.Storage.Upload(ctx, filename, reader, size, contentType)
	if err != nil {
		return "", err
	}
	if err := s.UserRepo.UpdateAvatar(userID, url); err != nil {
		return "", err
	}
	return url, nil
}
