// Package password hashes and checks user credentials for the goRotate login endpoint.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes ($2a$, $2b$, $2y$) are accepted by Verify so existing user tables can be
// imported; [Hasher.NeedsRehash] reports them so the caller re-hashes after login.
//
// # What this package must NOT do
//
//   - Store or look up users.
//   - Log plaintext passwords.
package password
