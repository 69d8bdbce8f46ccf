package download

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// FileSHA512 computes the base64-encoded sha512 of a file, streaming in
// chunks so large installers never sit in memory.
func FileSHA512(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	h := sha512.New()
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// verifyFile compares the file's sha512 against the manifest's expected
// value. The expected hash is base64 as published in channel manifests.
func verifyFile(path, expectedSHA512 string) error {
	actual, err := FileSHA512(path)
	if err != nil {
		return err
	}
	if actual != expectedSHA512 {
		return errcode.New(errcode.ChecksumMismatch, "sha512 checksum mismatch: expected %s, got %s", expectedSHA512, actual)
	}
	return nil
}
