package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
)

func WriteAtomic(destination string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return fmt.Errorf("cant create parent dir for %s: %w", destination, err)
	}

	tempFile := destination + ".tmp"
	if err := os.WriteFile(tempFile, content, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file %s: %w", tempFile, err)
	}

	if err := os.Rename(tempFile, destination); err != nil {
		return fmt.Errorf("failed to rename temp file %s to %s: %w", tempFile, destination, err)
	}
	return nil
}

func GetFunctionName(fn any) string {
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}
