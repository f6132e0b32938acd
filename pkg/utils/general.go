package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var instanceHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

// LoadConfig reads a .env file from path if one exists. Real environment
// variables always win over the file.
func LoadConfig(path string) {
	if err := godotenv.Load(path + "/.env"); err == nil {
		logrus.Debug("[CONFIG] Loaded .env file")
	}
}

// CreateFolder makes every folder in the list with mode 0755, ignoring the
// ones that already exist.
func CreateFolder(folders ...string) error {
	for _, folder := range folders {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
	}
	return nil
}

// GenerateInstanceHash returns a fresh 16-character lowercase hex identifier.
func GenerateInstanceHash() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// IsValidInstanceHash reports whether s is a 16-character hex identifier.
// Matching is case-insensitive; storage is always lowercase.
func IsValidInstanceHash(s string) bool {
	return instanceHashPattern.MatchString(s)
}
