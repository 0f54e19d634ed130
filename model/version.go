package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ConfigVersion derives a stable version tag from a model's architecture
// config. Two models share a tag exactly when their architectures are
// identical, which is what makes stored embeddings comparable.
func ConfigVersion(kind string, arch any) string {
	b, err := json.Marshal(arch)
	if err != nil {
		// Arch configs are plain value structs; Marshal cannot fail on
		// them unless a config type is broken at compile time.
		panic(fmt.Sprintf("model: marshal arch config: %v", err))
	}

	sum := sha256.Sum256(b)

	return kind + "-" + hex.EncodeToString(sum[:6])
}
