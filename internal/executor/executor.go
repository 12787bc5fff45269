package executor

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/nexasecurity/nexasec/pkg/types"
)

// RealCommandExecutor is a struct that implements the CommandExecutor interface.
type RealCommandExecutor struct{}

// ExecuteCommand executes a command and returns the stdout, stderr, and error.
// A nil env inherits the current process environment.
//
//nolint:gocritic
func (r *RealCommandExecutor) ExecuteCommand(ctx context.Context, name string, args []string,
	env []string) (stdout string, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	err = cmd.Run()
	return outb.String(), errb.String(), err
}

// NewCommandExecutor creates a new instance of the RealCommandExecutor.
func NewCommandExecutor() types.CommandExecutor {
	return &RealCommandExecutor{}
}
