package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-wallet-refresh/credential/storefake"
	"github.com/jrsteele09/go-wallet-refresh/session"
)

func TestOnReadyFiresOnSetReady(t *testing.T) {
	b := session.NewBridge()

	var got *session.Session
	b.OnReady(func(s *session.Session) { got = s }, true)
	require.Nil(t, got)

	s := &session.Session{Store: storefake.NewFakeCredentialStore()}
	b.SetReady(s)
	require.Same(t, s, got)
	require.Same(t, s, b.Current())
}

func TestOnReadyReplaysWhenAlreadyReady(t *testing.T) {
	b := session.NewBridge()
	s := &session.Session{}
	b.SetReady(s)

	var got *session.Session
	b.OnReady(func(sess *session.Session) { got = sess }, true)
	require.Same(t, s, got)

	var skipped *session.Session
	b.OnReady(func(sess *session.Session) { skipped = sess }, false)
	require.Nil(t, skipped)
}

func TestClearDropsSessionKeepsCallbacks(t *testing.T) {
	b := session.NewBridge()

	calls := 0
	b.OnReady(func(*session.Session) { calls++ }, false)

	b.SetReady(&session.Session{})
	b.Clear()
	require.Nil(t, b.Current())

	b.SetReady(&session.Session{})
	require.Equal(t, 2, calls)
}
