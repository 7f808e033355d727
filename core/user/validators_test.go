package user

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-breakglass/core"
)

type uniqueStub struct {
	err error
}

func (s uniqueStub) CheckUniqueness(context.Context, string, string, ...User) error {
	return s.err
}

func Test_passwordPolicyViolation(t *testing.T) {
	oldCommon := commonPasswords
	commonPasswords = []string{"p@ssw0rd1a"}
	defer func() { commonPasswords = oldCommon }()

	tests := []struct {
		name string
		pwd  string
		want string
	}{
		{name: "too short", pwd: "aB1!", want: pwdMinLenTag},
		{name: "whitespace", pwd: "has space1A!", want: pwdNoSpaceTag},
		{name: "all numeric", pwd: "12345678", want: pwdNotAllNumTag},
		{name: "not complex", pwd: "abcdefgh", want: pwdComplexityTag},
		{name: "no special", pwd: "abcdEFG1", want: pwdComplexityTag},
		{name: "similar to name", pwd: "Johnathan1!", want: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd1A", want: pwdNoCommonTag},
		{name: "valid", pwd: "Xk9#mQ2!vL", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := passwordPolicyViolation(tt.pwd, "Johnathan Doe", "jdoe", "jdoe@school.cd")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewUser_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		nu := NewUser{
			Name:            " Faculty One ",
			Username:        "Faculty1",
			Password:        "Xk9#mQ2!vL",
			PasswordConfirm: "Xk9#mQ2!vL",
			Roles:           []string{"Faculty"},
		}
		require.NoError(t, nu.Validate(ctx, validate, uniqueStub{}))
		assert.Equal(t, "Faculty One", nu.Name)
		assert.Equal(t, "faculty1", nu.Username)
		assert.Equal(t, []string{RoleFaculty}, nu.Roles)
	})

	t.Run("field errors", func(t *testing.T) {
		nu := NewUser{
			Name:            "Faculty One",
			Password:        "Xk9#mQ2!vL",
			PasswordConfirm: "nope",
			Roles:           []string{"janitor"},
		}
		err := nu.Validate(ctx, validate, uniqueStub{})
		vErrs, ok := err.(validator.ValidationErrors)
		require.True(t, ok, "got %T", err)

		got := make(map[string]string, len(vErrs))
		for _, vErr := range vErrs {
			got[vErr.Field()] = vErr.Translate(translator)
		}
		assert.Equal(t, allRolesText, got["roles"])
		assert.Equal(t, usernameOrEmailText, got["username"])
		assert.Equal(t, usernameOrEmailText, got["email"])
		assert.Contains(t, got, "password_confirm")
	})

	t.Run("not unique", func(t *testing.T) {
		nu := NewUser{
			Name:            "Faculty One",
			Email:           "f1@school.cd",
			Password:        "Xk9#mQ2!vL",
			PasswordConfirm: "Xk9#mQ2!vL",
		}
		err := nu.Validate(ctx, validate, uniqueStub{err: ErrUserExists})
		assert.Equal(t, ErrUserExists, err)
	})
}
