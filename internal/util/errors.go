package util

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailRegistered     = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrTokenInvalid        = errors.New("token invalid or expired")
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")

	ErrTaskNotFound      = errors.New("task not found")
	ErrProjectNotFound   = errors.New("project not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrSkillNotFound     = errors.New("skill not found")
	ErrBusinessNotFound  = errors.New("business venture not found")
	ErrValidation        = errors.New("validation failed")

	// 以下两个错误的文案会直接展示给用户
	ErrSchemaMissing = errors.New("Database tables missing. Please run the SQL setup script.")
	ErrProfileInit   = errors.New("Failed to initialize user profile.")

	ErrFunctionUnavailable = errors.New("remote function unavailable")
	ErrCheckoutUnavailable = errors.New("checkout function unavailable")
	ErrInvalidFileType     = errors.New("invalid file type")
)
