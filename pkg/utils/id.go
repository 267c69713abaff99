package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random unique ID
func GenerateID() string {
	return uuid.NewString()
}

// GenerateRunID generates a training run ID with a timestamp prefix
func GenerateRunID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(GenerateID(), "-", "")[:8]
	return fmt.Sprintf("run-%s-%s", timestamp, short)
}
