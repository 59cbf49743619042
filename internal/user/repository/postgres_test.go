package repository

import (
	"context"
	"testing"

	"github.com/svenmapprio/menuet/internal/db/dbtest"
	"github.com/svenmapprio/menuet/internal/user/domain"
)

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("escapeLike = %q", got)
	}
}

func TestPostgresRepository_CreateGetCount(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	repo := NewPostgresRepository(conn)

	for _, h := range []string{"alice", "alice2", "alicesmith", "malice"} {
		if err := repo.Create(ctx, &domain.User{Handle: h}); err != nil {
			t.Fatalf("Create %s: %v", h, err)
		}
	}
	n, err := repo.CountHandles(ctx, "alice")
	if err != nil {
		t.Fatalf("CountHandles: %v", err)
	}
	if n != 2 {
		t.Errorf("CountHandles(alice) = %d, want 2 (alice, alice2)", n)
	}
	if got := domain.NextHandle("alice", n); got != "alice3" {
		t.Errorf("NextHandle = %q, want alice3", got)
	}

	u := &domain.User{Handle: "bob", FirstName: "Bob", Picture: "p.png"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("Create should assign ID")
	}
	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Handle != "bob" || got.Picture != "p.png" {
		t.Errorf("GetByID = %+v", got)
	}
	missing, err := repo.GetByID(ctx, u.ID+1000)
	if err != nil || missing != nil {
		t.Errorf("GetByID missing = %+v, %v; want nil, nil", missing, err)
	}

	u.Handle = "bobby"
	if err := repo.UpdateProfile(ctx, u); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got, _ = repo.GetByID(ctx, u.ID)
	if got.Handle != "bobby" {
		t.Errorf("Handle = %q, want bobby", got.Handle)
	}
}

func TestPostgresRepository_SearchFriendFlags(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	repo := NewPostgresRepository(conn)

	me := &domain.User{Handle: "me"}
	fan := &domain.User{Handle: "fan"}
	idol := &domain.User{Handle: "idol"}
	mutual := &domain.User{Handle: "mutual"}
	for _, u := range []*domain.User{me, fan, idol, mutual} {
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(repo.AddFriend(ctx, fan.ID, me.ID))
	must(repo.AddFriend(ctx, me.ID, idol.ID))
	must(repo.AddFriend(ctx, me.ID, mutual.ID))
	must(repo.AddFriend(ctx, mutual.ID, me.ID))
	must(repo.AddFriend(ctx, mutual.ID, me.ID))

	items, err := repo.Search(ctx, me.ID, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := map[string][2]bool{"fan": {false, true}, "idol": {true, false}, "mutual": {true, true}}
	if len(items) != len(want) {
		t.Fatalf("Search returned %d items, want %d (viewer excluded)", len(items), len(want))
	}
	for _, it := range items {
		flags, ok := want[it.Handle]
		if !ok {
			t.Errorf("unexpected item %q", it.Handle)
			continue
		}
		if it.Self != flags[0] || it.Other != flags[1] {
			t.Errorf("%s: self=%v other=%v, want %v", it.Handle, it.Self, it.Other, flags)
		}
	}

	anon, err := repo.Search(ctx, 0, "u")
	if err != nil {
		t.Fatalf("anonymous Search: %v", err)
	}
	if len(anon) != 1 || anon[0].Handle != "mutual" || anon[0].Self || anon[0].Other {
		t.Errorf("anonymous Search = %+v, want only mutual without flags", anon)
	}

	must(repo.RemoveFriend(ctx, me.ID, idol.ID))
	items, _ = repo.Search(ctx, me.ID, "idol")
	if len(items) != 1 || items[0].Self {
		t.Errorf("after RemoveFriend = %+v", items)
	}
}
