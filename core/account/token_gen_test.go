package account

import (
	"testing"
	"time"

	"github.com/volatiletech/null/v8"
)

func TestMakeVerifyToken(t *testing.T) {
	secretKey = []byte("secret")
	passwordResetTimeoutDelta = 3 * 24 * time.Hour

	now := time.Now()
	acct := Account{
		ID:        "f9f1b1a2-52c7-44f5-a2f0-dd3d103c6a45",
		Name:      "T",
		Username:  "t",
		Email:     null.StringFrom("t@test.test"),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	_ = acct.SetPassword("pwd")

	validToken := MakeToken(acct)

	// generate an expired token
	dayLate := passwordResetTimeoutDelta + (24 * time.Hour)
	nowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := MakeToken(acct)
	nowFunc = time.Now // reset

	tests := []struct {
		name    string
		acct    Account
		token   string
		wantErr error
	}{
		{name: "no token", acct: acct, wantErr: errInvalidToken},
		{name: "invalid parts len", acct: acct, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", acct: acct, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", acct: acct, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", acct: acct, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", acct: acct, token: expiredToken, wantErr: errTokenExpired},
		{name: "valid token", acct: acct, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verifyToken(tt.acct, tt.token); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMakeVerifyToken_invalidatedByPasswordChange(t *testing.T) {
	secretKey = []byte("secret")
	passwordResetTimeoutDelta = 3 * 24 * time.Hour

	acct := Account{ID: "5d06a621-2cbe-4a22-9a06-35e77eeca6a9"}
	_ = acct.SetPassword("pwd")

	token := MakeToken(acct)
	if err := verifyToken(acct, token); err != nil {
		t.Fatalf("verifyToken() error = %v", err)
	}

	_ = acct.SetPassword("newpwd")
	if err := verifyToken(acct, token); err != errInvalidToken {
		t.Errorf("verifyToken() after password change error = %v, want errInvalidToken", err)
	}
}
