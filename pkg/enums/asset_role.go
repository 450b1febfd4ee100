package enums

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AssetRole describes what kind of media an asset holds.
type AssetRole string

const (
	AssetRoleImage    AssetRole = "image"
	AssetRoleVideo    AssetRole = "video"
	AssetRoleDocument AssetRole = "document"
)

var validAssetRoles = []AssetRole{
	AssetRoleImage,
	AssetRoleVideo,
	AssetRoleDocument,
}

// String returns the literal string for the role.
func (r AssetRole) String() string {
	return string(r)
}

// IsValid reports whether the role is known.
func (r AssetRole) IsValid() bool {
	for _, candidate := range validAssetRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseAssetRole converts raw input into an AssetRole.
func ParseAssetRole(value string) (AssetRole, error) {
	for _, candidate := range validAssetRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid asset role %q", value)
}

var roleByExtension = map[string]AssetRole{
	".jpg":  AssetRoleImage,
	".jpeg": AssetRoleImage,
	".png":  AssetRoleImage,
	".webp": AssetRoleImage,
	".gif":  AssetRoleImage,
	".mp4":  AssetRoleVideo,
	".mov":  AssetRoleVideo,
	".webm": AssetRoleVideo,
	".mkv":  AssetRoleVideo,
	".pdf":  AssetRoleDocument,
	".doc":  AssetRoleDocument,
	".docx": AssetRoleDocument,
}

// AssetRoleForFilename derives the role from the filename extension.
func AssetRoleForFilename(name string) (AssetRole, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if role, ok := roleByExtension[ext]; ok {
		return role, nil
	}
	return "", fmt.Errorf("unsupported file extension %q", ext)
}
