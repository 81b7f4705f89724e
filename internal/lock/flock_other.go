//go:build !unix

package lock

// lockFile is a no-op where flock is unavailable; exclusion is in-process.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
