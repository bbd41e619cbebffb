//go:build !unix

package lock

func pidAlive(int) (alive, known bool) { return false, false }
