package audio

import (
	"context"
	"strings"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

// StaticPermission reports a configured microphone permission.
// Desktop Linux has no permission prompt; operators deny capture through configuration.
type StaticPermission struct {
	state ports.PermissionState
}

func NewStaticPermission(state string) StaticPermission {
	switch ports.PermissionState(strings.ToLower(strings.TrimSpace(state))) {
	case ports.PermissionGranted:
		return StaticPermission{state: ports.PermissionGranted}
	case ports.PermissionDenied:
		return StaticPermission{state: ports.PermissionDenied}
	default:
		return StaticPermission{state: ports.PermissionPrompt}
	}
}

func (p StaticPermission) MicrophonePermission(_ context.Context) (ports.PermissionState, error) {
	return p.state, nil
}
