package main

import "path/filepath"

func absPath(path string) (string, error) {
	return filepath.Abs(path)
}
