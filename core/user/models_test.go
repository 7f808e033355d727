package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoles(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  []string
	}{
		{name: "nil", roles: nil, want: []string{}},
		{name: "blanks dropped", roles: []string{" ", ""}, want: []string{}},
		{name: "lowered & sorted", roles: []string{"Faculty", " ADMIN "}, want: []string{RoleAdmin, RoleFaculty}},
		{name: "duplicates dropped", roles: []string{RoleFaculty, "faculty", RoleFaculty}, want: []string{RoleFaculty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRoles(tt.roles))
		})
	}
}

func TestRolesEqual(t *testing.T) {
	assert.True(t, RolesEqual([]string{RoleAdmin, RoleFaculty}, []string{RoleFaculty, RoleAdmin, RoleAdmin}))
	assert.True(t, RolesEqual(nil, []string{}))
	assert.False(t, RolesEqual([]string{RoleFaculty}, []string{RoleFaculty, RoleAcademicHead}))
	assert.False(t, RolesEqual([]string{RoleAdmin}, []string{RoleFaculty}))
}

func TestUser_roles(t *testing.T) {
	usr := User{Roles: []string{RoleFaculty}}
	assert.True(t, usr.IsFaculty())
	assert.True(t, usr.HasOnlyRoles(RoleFaculty))
	assert.False(t, usr.IsAdmin())
	assert.False(t, usr.IsAcademicHead())

	usr.Roles = []string{RoleAcademicHead, RoleFaculty}
	assert.False(t, usr.HasOnlyRoles(RoleFaculty))
	assert.Equal(t, 20, MaxRolePriority(usr.Roles))
	assert.Equal(t, 0, MaxRolePriority(nil))
}

func TestUser_Snapshot(t *testing.T) {
	usr := User{ID: "42", Name: "Faculty One", Email: "f1@school.cd", Roles: []string{RoleFaculty}}
	snap := usr.Snapshot([]string{RoleAdmin})
	assert.Equal(t, map[string]interface{}{
		"id":    "42",
		"name":  "Faculty One",
		"email": "f1@school.cd",
		"roles": []string{RoleAdmin},
	}, snap)
	assert.Equal(t, []string{RoleFaculty}, usr.Roles, "snapshot must not touch the user")
}

func TestUser_password(t *testing.T) {
	var usr User
	if err := usr.SetPassword("Pa55word!"); err != nil {
		t.Fatalf("SetPassword() failed: %v", err)
	}
	assert.NoError(t, usr.CheckPassword("Pa55word!"))
	assert.Error(t, usr.CheckPassword("pa55word!"))
}
