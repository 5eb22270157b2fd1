package engine

import (
	"fmt"
	"strings"

	"github.com/3leaps/wsfetch/pkg/queue"
)

// Commands returns the engine session for one download: set the install
// target, log in anonymously, fetch the item, then quit.
//
// Workshop references download an item under its owning app; bare content
// ids update the app itself with validation.
func Commands(installDir string, ref queue.SourceRef) []string {
	cmds := []string{
		fmt.Sprintf("force_install_dir \"%s\"", installDir),
		"login anonymous",
	}
	if ref.IsWorkshop() {
		cmds = append(cmds, fmt.Sprintf("workshop_download_item %s %s", ref.OwnerAppID, ref.ContentID))
	} else {
		cmds = append(cmds, fmt.Sprintf("app_update %s validate", ref.ContentID))
	}
	return append(cmds, "quit")
}

// Script joins commands into the text fed to the engine's stdin.
func Script(cmds []string) string {
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(c)
		b.WriteByte('\n')
	}
	return b.String()
}
