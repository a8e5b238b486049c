// Package auth supplies the cryptographic collaborators of the credential
// store: the crypt(3)-compatible password hasher and HS256 session tokens.
package auth
