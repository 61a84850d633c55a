package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/pkg/utils"
)

// Login starts the verification-code flow for an email address or phone
// number. The returned token is held unverified until Verify succeeds.
func (f *Fetcher) Login(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.NewInvalidPayloadError("login identifier is empty", nil)
	}

	data, err := f.Call(ctx, http.MethodPost, "/login", map[string]string{"login": identifier}, false)
	if err != nil {
		return err
	}
	tok := utils.FirstString(data, "user_token", "token")
	if tok == nil {
		return errors.NewInvalidPayloadError("login response carried no token", nil)
	}
	f.setToken(*tok)
	f.log.Infof("verification code requested for %s", maskIdentifier(identifier))
	return nil
}

// Verify completes login with the code sent to the user.
func (f *Fetcher) Verify(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.NewInvalidPayloadError("verification code is empty", nil)
	}

	data, err := f.Call(ctx, http.MethodPost, "/login/verify", map[string]string{"code": code}, true)
	if err != nil {
		return err
	}
	if tok := utils.FirstString(data, "user_token", "token"); tok != nil && *tok != f.Token() {
		f.setToken(*tok)
	}
	f.log.Info("session verified")
	return nil
}

// Logout ends the session remotely when possible and always forgets it locally.
func (f *Fetcher) Logout(ctx context.Context) error {
	var err error
	if f.HasSession() {
		_, err = f.Call(ctx, http.MethodPost, "/logout", nil, true)
	}
	f.setToken("")
	f.winners.Clear()
	if err != nil && !errors.IsUnauthenticated(err) {
		return err
	}
	return nil
}

func maskIdentifier(id string) string {
	if at := strings.Index(id, "@"); at > 1 {
		return id[:1] + strings.Repeat("*", at-1) + id[at:]
	}
	if len(id) > 4 {
		return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
	}
	return "****"
}
