package app_test

import "os"

func mkdir(path string) error {
	return os.MkdirAll(path, 0o750)
}
