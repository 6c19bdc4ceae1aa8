package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var errOverwriteDeclined = errors.New("directory already exists")

// prepareCollectionDir creates base/mediaID for a collection download. If
// it already exists the user is asked before it is removed and recreated;
// yes skips the question.
func prepareCollectionDir(base, mediaID string, yes bool, stdin io.Reader, stdout io.Writer) (string, error) {
	dir := filepath.Join(base, mediaID)

	if _, err := os.Stat(dir); err == nil {
		if !yes {
			fmt.Fprintf(stdout, "Directory %s already exists. Do you want to overwrite it? (y/n)\n", mediaID)
			answer, _ := bufio.NewReader(stdin).ReadString('\n')
			if !strings.EqualFold(strings.TrimSpace(answer), "y") {
				return "", fmt.Errorf("%s: %w", dir, errOverwriteDeclined)
			}
		}
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("remove %s: %w", dir, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}
