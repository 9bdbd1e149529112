//go:build !unix

package chatlog

import "os"

// Only the in-process mutex guards writers on platforms without flock.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
