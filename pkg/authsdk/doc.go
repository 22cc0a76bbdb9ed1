// Package authsdk is a Go client for the Meridian auth service.
//
// The SDK mirrors the service's HTTP API. Unauthenticated operations
// (register, login, MFA completion, refresh) hang off Client; a successful
// login yields a Session that attaches bearer tokens to requests and
// transparently rotates its refresh token when the access token nears
// expiry.
//
// Login against an MFA-enabled account does not return a Session directly.
// Instead it fails with *MFARequiredError carrying a short-lived challenge
// token; pass that token to VerifyTOTP or VerifyBackupCode to finish:
//
//	sess, err := client.Login(ctx, email, password)
//	var mfaErr *authsdk.MFARequiredError
//	if errors.As(err, &mfaErr) {
//		sess, err = client.VerifyTOTP(ctx, mfaErr.ChallengeToken, code)
//	}
package authsdk
