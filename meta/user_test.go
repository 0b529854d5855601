package meta

import "testing"

func TestNewUserGrantsOnlyListedAuths(t *testing.T) {
	u := NewUser("alice", "pw", Normal, AuthRead)
	if !u.HasAuth(AuthRead) {
		t.Fatal("expected AuthRead")
	}
	if u.HasAuth(AuthWrite) {
		t.Fatal("did not expect AuthWrite")
	}
}

func TestSetAuthsReplacesEntireSet(t *testing.T) {
	u := NewUser("alice", "pw", Normal, AuthRead, AuthWrite)
	u.SetAuths(map[Auth]struct{}{AuthAdmin: {}})
	if u.HasAuth(AuthRead) || u.HasAuth(AuthWrite) {
		t.Fatal("expected prior auths to be fully replaced")
	}
	if !u.HasAuth(AuthAdmin) {
		t.Fatal("expected the new auth set to take effect")
	}
}

func TestUserCloneIsIndependent(t *testing.T) {
	u := NewUser("alice", "pw", Normal, AuthRead)
	cp := u.Clone()
	cp.Auths[AuthAdmin] = struct{}{}
	if u.HasAuth(AuthAdmin) {
		t.Fatal("mutating a clone's auth set must not affect the original")
	}
}
