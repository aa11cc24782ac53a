//go:build windows

package agentloop

import (
	"context"
	"os/exec"
)

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "cmd.exe", "/c", command)
}

func configureProcessGroup(cmd *exec.Cmd) {}
