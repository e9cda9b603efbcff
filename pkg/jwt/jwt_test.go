package jwt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapingturtlefrog/Friendsly/pkg/jwt"
)

func TestGenerateAndValidate(t *testing.T) {
	manager := jwt.NewManager("test-secret", time.Hour, "queue-service")

	token, err := manager.Generate("user-1", "Alice", "fan")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "fan", claims.Role)
	assert.Equal(t, "queue-service", claims.Issuer)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := jwt.NewManager("secret-a", time.Hour, "queue-service")
	verifier := jwt.NewManager("secret-b", time.Hour, "queue-service")

	token, err := issuer.Generate("user-1", "Alice", "fan")
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	manager := jwt.NewManager("test-secret", -time.Minute, "queue-service")

	token, err := manager.Generate("user-1", "Alice", "fan")
	require.NoError(t, err)

	_, err = manager.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	manager := jwt.NewManager("test-secret", time.Hour, "queue-service")

	_, err := manager.Validate("not-a-token")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}
