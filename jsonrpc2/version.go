package jsonrpc2

import (
	"fmt"
	"strings"
)

// checkVersion accepts any version tag with the prefix "2.".
func checkVersion(version string) error {
	if strings.HasPrefix(version, "2.") {
		return nil
	}
	if version == "" {
		return fmt.Errorf("missing version")
	}
	return fmt.Errorf("unsupported version: %q", version)
}
