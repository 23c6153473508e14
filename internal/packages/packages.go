// Package packages installs the closed set of host-side tools the
// later phases invoke on the live/rescue environment.
package packages

import (
	"strings"

	ierrors "github.com/jdfalk/ubuntu-autoinstall-agent/internal/errors"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
)

// HostTools is the closed set of tools installed on the live/rescue
// environment before disk work begins.
var HostTools = []string{
	"zfsutils-linux",
	"cryptsetup",
	"gdisk",
	"parted",
	"debootstrap",
	"dosfstools",
	"xfsprogs",
	"util-linux",
}

// Preparer runs apt update/install against the closed tool set.
type Preparer struct {
	run *runner.Runner
}

// New builds a Preparer bound to phase "packages".
func New(run *runner.Runner) *Preparer {
	return &Preparer{run: run.WithPhase("packages")}
}

// Prepare installs HostTools plus any extra packages. Failure is fatal
// to the run: subsequent phases need these binaries.
func (p *Preparer) Prepare(extra []string) error {
	if err := p.run.Run("apt update", "apt-get update -y"); err != nil {
		return err
	}
	tools := append(append([]string{}, HostTools...), extra...)
	cmd := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + strings.Join(tools, " ")
	if err := p.run.Run("apt install host tools", cmd); err != nil {
		return ierrors.New(ierrors.MissingDependency, "packages", "apt install host tools", err)
	}
	return nil
}
