// Package ftpfs addresses FTP and FTPS servers through location strings and
// keeps their sessions pooled.
//
// # Overview
//
// A location has the form
//
//	ftp[s]://[user[:password]@]host[:port][/path]
//
// Parse turns it into a LocationRef: a ConnectionKey (scheme, host, port,
// user), the percent-decoded Credentials and the remote path. The key never
// carries the password, so it is safe to log and to use as a map key.
//
// A Pool keeps at most one Session per key. A Router ties the two together:
// every operation parses its location, acquires the key's session, runs and
// releases it. When the connection turns out to be dead (reset, EOF,
// timeout, 421), the session is invalidated and the operation runs once
// more on a fresh connection.
//
// # Basic Usage
//
//	pool, err := ftpfs.NewPool(
//	    ftpfs.WithIdleTimeout(5*time.Minute),
//	    ftpfs.WithTimeout(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown(context.Background())
//
//	router, err := ftpfs.NewRouter(pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	entries, err := router.List(ctx, "ftp://ftp.gnu.org/gnu")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # TLS
//
// ftps locations use explicit TLS: the client connects on the control port
// (21 unless given) and upgrades with AUTH TLS, then protects data
// connections with PROT P. The server name is verified against the host of
// the location unless WithTLSConfig says otherwise.
//
// # Credentials
//
// A location without user logs in as anonymous. A user without a password
// sends an empty password. With a Resolver configured, a password-less
// location borrows the password of a bookmark with the same key.
//
// # Errors
//
// Every operation returns *Error values with a Kind. Use errors.Is with the
// sentinels (ErrNotFound, ErrPermissionDenied, ...) or KindOf:
//
//	if errors.Is(err, ftpfs.ErrNotFound) {
//	    // ...
//	}
//
// Passwords never appear in errors or logs.
package ftpfs
