//go:build !windows

package procreg

import "os/exec"

func configureSysProcAttr(*exec.Cmd) {}
