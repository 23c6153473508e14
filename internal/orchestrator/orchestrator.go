package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/cleanup"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/config"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/diskmgr"
	ierrors "github.com/jdfalk/ubuntu-autoinstall-agent/internal/errors"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/investigator"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/packages"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/runner"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sysconfig"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/zfsmgr"
	vfs "github.com/twpayne/go-vfs"
)

// Orchestrator sequences phases 0-6 over a single SSH session, owning
// the VariableMap and implementing preflight, hold-on-failure,
// pause-after-storage, and the end-of-run report.
type Orchestrator struct {
	transport runner.Transport
	log       logger.Logger
	fs        vfs.FS

	cfg    config.InstallationConfig
	extras *sysconfig.Extras
	vars   *VariableMap

	holdOnFailure     bool
	pauseAfterStorage bool
	investigateOnly   bool
	dryRun            bool
	confirm           func() bool
	localLogDir       string

	now func() int64

	results []PhaseResult
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger overrides the default stderr logger.
func WithLogger(l logger.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithExtras attaches the optional declarative additions (extra
// packages, extra user accounts) layered on top of InstallationConfig.
func WithExtras(e *sysconfig.Extras) Option { return func(o *Orchestrator) { o.extras = e } }

// WithHoldOnFailure selects hold-on-failure execution mode.
func WithHoldOnFailure(v bool) Option { return func(o *Orchestrator) { o.holdOnFailure = v } }

// WithPauseAfterStorage selects pause-after-storage execution mode.
func WithPauseAfterStorage(v bool) Option {
	return func(o *Orchestrator) { o.pauseAfterStorage = v }
}

// WithInvestigateOnly runs only the Investigator and returns before phase 0.
func WithInvestigateOnly(v bool) Option { return func(o *Orchestrator) { o.investigateOnly = v } }

// WithDryRun substitutes a no-op transport so no command reaches the target.
func WithDryRun(v bool) Option { return func(o *Orchestrator) { o.dryRun = v } }

// WithConfirm overrides the operator-confirmation callback used by
// pause-after-storage mode; the default blocks on stdin.
func WithConfirm(f func() bool) Option { return func(o *Orchestrator) { o.confirm = f } }

// WithLocalFS overrides the local filesystem used to write the
// downloaded debug archive; tests supply an in-memory FS.
func WithLocalFS(fs vfs.FS) Option { return func(o *Orchestrator) { o.fs = fs } }

// WithLocalLogDir overrides the local directory debug archives are
// written under (default "./logs/<hostname>").
func WithLocalLogDir(dir string) Option { return func(o *Orchestrator) { o.localLogDir = dir } }

// New builds an Orchestrator bound to transport and cfg, applying opts
// in order. transport is typically an *sshtransport.Transport, but any
// runner.Transport works - including local-install's loopback dial
// and a fake in tests.
func New(transport runner.Transport, cfg config.InstallationConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		cfg:       cfg.WithDefaults(),
		vars:      NewVariableMap(),
		log:       logger.New(),
		fs:        vfs.OSFS,
		confirm:   confirmOnStdin,
		now:       func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dryRun {
		o.transport = &dryRunTransport{log: o.log}
	}
	if o.localLogDir == "" {
		o.localLogDir = fmt.Sprintf("./logs/%s", o.cfg.Hostname)
	}
	return o
}

// Results returns the phase results recorded so far, in pipeline order.
func (o *Orchestrator) Results() []PhaseResult { return o.results }

// Run validates cfg, runs Preflight, then drives phases 0-6 in order
// per the selected execution mode, returning the final Report. Run
// never panics on a phase failure; the error return reports whether
// the overall installation succeeded.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	run := runner.New(o.transport, o.log, "preflight")
	inv := investigator.New(run, o.log)
	info := inv.Investigate()

	if o.investigateOnly {
		o.log.Infof("investigate-only: hostname=%s kernel=%s", info.Hostname, info.KernelVersion)
		return &Report{Hostname: o.cfg.Hostname}, nil
	}

	if err := o.preflight(run, info); err != nil {
		return nil, err
	}

	phases := []struct {
		name string
		fn   func(context.Context) error
	}{
		{PhaseVars, o.phaseVars},
		{PhasePackages, o.phasePackages},
		{PhaseDisk, o.phaseDisk},
		{PhaseZFS, o.phaseZFS},
		{PhaseBase, o.phaseBase},
		{PhaseConfig, o.phaseConfig},
		{PhaseCleanup, o.phaseCleanup},
	}

	// Strict mode (the default) aborts the *overall* run at the first
	// failure but keeps entering every remaining phase to maximize
	// diagnostics; hold-on-failure mode stops immediately
	// and parks the target instead. firstErr/debugPath capture the
	// failure the Report and exit code are ultimately keyed on.
	var firstErr error
	var debugPath string
	for _, p := range phases {
		if ctx.Err() != nil {
			o.record(p.name, StatusSkipped, ctx.Err().Error())
			continue
		}

		err := p.fn(ctx)
		if err == nil {
			o.record(p.name, StatusSucceeded, "")
			o.log.Infof("phase %s: succeeded", p.name)
			if p.name == PhaseZFS && o.pauseAfterStorage {
				o.pauseForOperator()
			}
			continue
		}

		o.log.Errorf("phase %s: failed: %v", p.name, err)
		thisDebugPath := o.collectAndDownloadDebugInfo()
		if firstErr == nil {
			firstErr = ierrors.New(ierrors.Command, p.name, "phase", err)
			debugPath = thisDebugPath
		}

		if o.holdOnFailure {
			o.record(p.name, StatusHeld, err.Error())
			o.enterHoldMode()
			return o.report(debugPath, true), firstErr
		}

		o.record(p.name, StatusFailed, err.Error())
	}

	return o.report(debugPath, false), firstErr
}

func (o *Orchestrator) record(name string, status Status, message string) {
	o.results = append(o.results, PhaseResult{Name: name, Status: status, Message: message})
}

func (o *Orchestrator) report(debugPath string, held bool) *Report {
	return &Report{Hostname: o.cfg.Hostname, Results: o.results, DebugLog: debugPath, Held: held}
}

// phaseVars populates the in-process VariableMap from cfg.
// Since every remote command runs in its own SSH session,
// a literal `export K='V'` issued here would not persist to the
// sessions later phases open; command strings are built directly from
// the Go struct fields instead, so this phase is local bookkeeping
// only and never touches the target.
func (o *Orchestrator) phaseVars(context.Context) error {
	o.vars.Set(VarDisk, o.cfg.DiskDevice)
	o.vars.Set(VarTimezone, o.cfg.Timezone)
	o.vars.Set(VarHostname, o.cfg.Hostname)
	o.vars.Set(VarNetInterface, o.cfg.NetworkInterface)
	o.vars.Set(VarNetAddress, o.cfg.NetworkAddress)
	o.vars.Set(VarNetGateway, o.cfg.NetworkGateway)
	o.vars.Set(VarNetSearch, o.cfg.NetworkSearch)
	o.vars.Set(VarNetNameservers, strings.Join(o.cfg.NetworkNameservers, " "))
	o.vars.Set(VarDebootstrapRelease, o.cfg.DebootstrapRelease)
	o.vars.Set(VarDebootstrapMirror, o.cfg.DebootstrapMirror)
	o.vars.SetSecret(VarLuksKey, o.cfg.LuksPassphrase)
	o.vars.SetSecret(VarRootPassword, o.cfg.RootPassword)
	return nil
}

func (o *Orchestrator) phasePackages(context.Context) error {
	run := runner.New(o.transport, o.log, PhasePackages)
	var extra []string
	if o.extras != nil {
		extra = o.extras.Packages
	}
	return packages.New(run).Prepare(extra)
}

func (o *Orchestrator) phaseDisk(context.Context) error {
	run := runner.New(o.transport, o.log, PhaseDisk)
	return diskmgr.New(run).PrepareDisk(o.cfg.DiskDevice, o.cfg.LuksPassphrase)
}

func (o *Orchestrator) phaseZFS(context.Context) error {
	run := runner.New(o.transport, o.log, PhaseZFS)
	mgr := zfsmgr.New(run)

	uuid, err := mgr.GenerateUUID()
	if err != nil {
		return err
	}
	o.vars.Set(VarUUID, uuid)

	if err := mgr.CreatePools(o.cfg.DiskDevice); err != nil {
		return err
	}
	if err := mgr.CreateBpoolDatasets(uuid); err != nil {
		return err
	}
	if err := mgr.CreateRpoolDatasets(uuid, o.now()); err != nil {
		return err
	}
	if err := mgr.PersistUUID(uuid, o.cfg.DiskDevice); err != nil {
		return err
	}
	return mgr.FixPermissions()
}

func (o *Orchestrator) phaseBase(context.Context) error {
	run := runner.New(o.transport, o.log, PhaseBase)
	return sysconfig.New(run).InstallBaseSystem(o.cfg, o.extras)
}

func (o *Orchestrator) phaseConfig(context.Context) error {
	run := runner.New(o.transport, o.log, PhaseConfig)
	cfgr := sysconfig.New(run)
	if err := cfgr.ConfigureZFSInChroot(); err != nil {
		return err
	}
	if err := cfgr.ConfigureGrubInChroot(o.cfg); err != nil {
		return err
	}
	return cfgr.SetupLuksKeyInChroot(o.cfg)
}

func (o *Orchestrator) phaseCleanup(context.Context) error {
	run := runner.New(o.transport, o.log, PhaseCleanup)
	return cleanup.New(run).Run()
}
