package domain

import "testing"

func TestBaseHandle(t *testing.T) {
	testCases := []struct {
		first, last string
		want        string
	}{
		{"Alice", "Smith", "alicesmith"},
		{"Jean-Luc", "Picard", "jeanlucpicard"},
		{"Zoë", "", "zoë"},
		{"", "", DefaultHandleBase},
		{"  ", "!!", DefaultHandleBase},
		{"R2", "D2", "r2d2"},
	}
	for _, tc := range testCases {
		if got := BaseHandle(tc.first, tc.last); got != tc.want {
			t.Errorf("BaseHandle(%q, %q) = %q, want %q", tc.first, tc.last, got, tc.want)
		}
	}
}

func TestNextHandle(t *testing.T) {
	testCases := []struct {
		base  string
		count int
		want  string
	}{
		{"alice", 0, "alice"},
		{"alice", 1, "alice2"},
		{"alice", 2, "alice3"},
		{"user", 9, "user10"},
	}
	for _, tc := range testCases {
		if got := NextHandle(tc.base, tc.count); got != tc.want {
			t.Errorf("NextHandle(%q, %d) = %q, want %q", tc.base, tc.count, got, tc.want)
		}
	}
}

func TestUser_NameAndValidate(t *testing.T) {
	u := &User{FirstName: "Ada", LastName: "Lovelace"}
	if u.Name() != "Ada Lovelace" {
		t.Errorf("Name = %q", u.Name())
	}
	if err := u.Validate(); err == nil {
		t.Error("Validate should require a handle")
	}
	u.Handle = "adalovelace"
	if err := u.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if (&User{FirstName: "Ada"}).Name() != "Ada" {
		t.Error("Name should trim the missing last name")
	}
}
