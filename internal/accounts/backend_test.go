package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/testutil"
)

func registeredStudent(t *testing.T, d *gorm.DB, email, matric, password string) *models.UserAccount {
	t.Helper()
	ctx := context.Background()
	st := testutil.Student(t, d, email, matric)
	hash, err := HashPassword(password)
	require.NoError(t, err)
	acc := &models.UserAccount{
		Name: st.Name, AccountType: models.AccountStudent, Email: email,
		PasswordHash: hash, Timezone: "UTC", IsActive: true,
	}
	require.NoError(t, repo.NewAccountStore(d).Create(ctx, acc))
	require.NoError(t, repo.NewStudentStore(d).LinkAccount(ctx, st.ID, acc.ID))
	return acc
}

func TestAuthenticate(t *testing.T) {
	d := testutil.NewDB(t)
	ctx := context.Background()
	acc := registeredStudent(t, d, "ada@example.edu", "ENG/19/001", "Secr3t!pw")
	auth := &Authenticator{Accounts: repo.NewAccountStore(d), Students: repo.NewStudentStore(d)}

	cases := []struct {
		name  string
		creds Credentials
		ok    bool
	}{
		{"email", Credentials{"email": "ada@example.edu", "password": "Secr3t!pw"}, true},
		{"username field", Credentials{"username": "ADA@example.edu", "password": "Secr3t!pw"}, true},
		{"email wins over username", Credentials{"email": "ada@example.edu", "username": "nobody@x", "password": "Secr3t!pw"}, true},
		{"with matric", Credentials{"email": "ada@example.edu", "matriculation_number": "eng/19/001", "password": "Secr3t!pw"}, true},
		{"mat_no field", Credentials{"email": "ada@example.edu", "mat_no": "ENG/19/001", "password": "Secr3t!pw"}, true},
		{"wrong matric", Credentials{"email": "ada@example.edu", "mat_no": "ENG/19/002", "password": "Secr3t!pw"}, false},
		{"wrong password", Credentials{"email": "ada@example.edu", "password": "nope"}, false},
		{"unknown email", Credentials{"email": "bob@example.edu", "password": "Secr3t!pw"}, false},
		{"missing password", Credentials{"email": "ada@example.edu"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := auth.Authenticate(ctx, tc.creds)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, acc.ID, got.ID)
		})
	}
}

func TestAuthenticateMatricRequiresStudent(t *testing.T) {
	d := testutil.NewDB(t)
	ctx := context.Background()
	hash, err := HashPassword("Adm1n!pass")
	require.NoError(t, err)
	admin := &models.UserAccount{
		Name: "Root", AccountType: models.AccountAdmin, Email: "root@example.edu",
		PasswordHash: hash, IsAdmin: true, IsActive: true,
	}
	require.NoError(t, repo.NewAccountStore(d).Create(ctx, admin))
	auth := &Authenticator{Accounts: repo.NewAccountStore(d), Students: repo.NewStudentStore(d)}

	_, err = auth.Authenticate(ctx, Credentials{"email": "root@example.edu", "password": "Adm1n!pass"})
	require.NoError(t, err)
	_, err = auth.Authenticate(ctx, Credentials{"email": "root@example.edu", "mat_no": "X/1", "password": "Adm1n!pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateInactive(t *testing.T) {
	d := testutil.NewDB(t)
	ctx := context.Background()
	acc := registeredStudent(t, d, "eve@example.edu", "ENG/19/003", "Secr3t!pw")
	require.NoError(t, d.Model(acc).Update("is_active", false).Error)
	auth := &Authenticator{Accounts: repo.NewAccountStore(d), Students: repo.NewStudentStore(d)}

	_, err := auth.Authenticate(ctx, Credentials{"email": "eve@example.edu", "password": "Secr3t!pw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
