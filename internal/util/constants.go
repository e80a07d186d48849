package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimeImage = "image/"
	MimeJPEG  = "image/jpeg"
)

// AvatarSize 头像与体态照片归一化后的最大边长
const AvatarSize = 512

// MaxUploadSize 单个上传文件的大小上限
const MaxUploadSize = 10 << 20

var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
