package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySucceedsForSeededAccount(t *testing.T) {
	s := New(map[string]string{"alice": "wonderland"})
	assert.True(t, s.Verify("alice", "wonderland"))
}

func TestVerifyFailsForWrongPassword(t *testing.T) {
	s := New(map[string]string{"alice": "wonderland"})
	assert.False(t, s.Verify("alice", "nope"))
}

func TestVerifyFailsForUnknownUser(t *testing.T) {
	s := New(map[string]string{"alice": "wonderland"})
	assert.False(t, s.Verify("mallory", "anything"))
}

func TestVerifyFailsForEmptyUsername(t *testing.T) {
	s := New(DefaultSeed())
	assert.False(t, s.Verify("", "password1"))
}

func TestVerifyFailsForEmptyPassword(t *testing.T) {
	s := New(DefaultSeed())
	assert.False(t, s.Verify("user1", ""))
}

func TestDefaultSeedVerifiesKnownAccounts(t *testing.T) {
	s := New(DefaultSeed())
	assert.True(t, s.Verify("user1", "password1"))
	assert.True(t, s.Verify("user2", "password2"))
}
