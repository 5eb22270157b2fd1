//go:build windows

package procreg

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// configureSysProcAttr keeps the engine from opening a console window.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
