package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// MockEncryptor implements Encryptor for local development (no KMS required).
// Output is "mock:<scope>:<base64 plaintext>"; it hides nothing.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, plaintext, scope string) (string, error) {
	return "mock:" + scope + ":" + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, ciphertext, scope string) (string, error) {
	prefix := "mock:" + scope + ":"
	if !strings.HasPrefix(ciphertext, prefix) {
		return "", fmt.Errorf("ciphertext was not sealed for scope %q", scope)
	}
	plain, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, prefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	return string(plain), nil
}
