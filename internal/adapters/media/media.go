// Package media captures the local microphone for a call.
package media

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dkeye/VoiceRelay/internal/core"
)

// classify maps capture driver errors onto the core media sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrPermissionDenied) || errors.Is(err, core.ErrNoMicrophone) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", core.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "failed to find"):
		return fmt.Errorf("%w: %v", core.ErrNoMicrophone, err)
	default:
		return fmt.Errorf("open microphone: %w", err)
	}
}
