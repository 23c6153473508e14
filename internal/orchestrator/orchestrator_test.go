package orchestrator

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/config"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/logger"
	"github.com/jdfalk/ubuntu-autoinstall-agent/internal/sshtransport"
	vfs "github.com/twpayne/go-vfs"
)

// fakeTransport implements runner.Transport (and the optional
// CollectDebugInfo probe) over a simple substring-matched rule set, so
// a full Orchestrator.Run can be exercised without a real target.
type fakeTransport struct {
	commands []string
	secrets  []string

	// failSubstrings maps a command substring to the number of times
	// it should still fail before succeeding; useful for GRUB's
	// retry cascade.
	failSubstrings map[string]int
	// checkSilentFalse marks substrings CheckSilent should report as
	// absent; everything else reports present.
	checkSilentFalse []string
}

func (f *fakeTransport) Execute(cmd string) error {
	_, err := f.ExecuteWithErrorCollection(cmd)
	return err
}

func (f *fakeTransport) ExecuteWithOutput(cmd string) (string, error) {
	res, err := f.ExecuteWithErrorCollection(cmd)
	return res.Stdout, err
}

func (f *fakeTransport) ExecuteWithErrorCollection(cmd string) (sshtransport.Result, error) {
	f.commands = append(f.commands, cmd)
	for substr, remaining := range f.failSubstrings {
		if remaining > 0 && strings.Contains(cmd, substr) {
			f.failSubstrings[substr] = remaining - 1
			return sshtransport.Result{ExitCode: 1, Stderr: "boom"}, nil
		}
	}
	if strings.Contains(cmd, "generate installation uuid") || cmd == `dd if=/dev/urandom bs=1 count=100 2>/dev/null | tr -dc 'a-z0-9' | cut -c-6` {
		return sshtransport.Result{Stdout: "abc123"}, nil
	}
	return sshtransport.Result{}, nil
}

func (f *fakeTransport) ExecuteWithStdin(cmd string, secret io.Reader) error {
	f.commands = append(f.commands, cmd)
	b, _ := io.ReadAll(secret)
	f.secrets = append(f.secrets, string(b))
	return nil
}

func (f *fakeTransport) CheckSilent(cmd string) bool {
	f.commands = append(f.commands, cmd)
	for _, substr := range f.checkSilentFalse {
		if strings.Contains(cmd, substr) {
			return false
		}
	}
	return true
}

func (f *fakeTransport) CollectDebugInfo() string { return "=== dmesg ===\nfake debug output\n" }

func happyPathCfg() config.InstallationConfig { return config.ForLenServ003() }

// absentMarkers are the CheckSilent substrings a fresh target should
// report as absent: no residual bpool/rpool, no residual luks mapper,
// no residual mount, and no pre-existing dataset - so every
// idempotent "does X exist" guard takes its create branch.
var absentMarkers = []string{"bpool", "rpool", "cryptsetup status", "mountpoint -q", "zfs list -H"}

func TestRunHappyPathAllPhasesSucceed(t *testing.T) {
	ft := &fakeTransport{checkSilentFalse: absentMarkers}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()))

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("report reports a failure: %+v", report.Results)
	}
	if len(report.Results) != len(phaseOrder) {
		t.Fatalf("got %d phase results, want %d", len(report.Results), len(phaseOrder))
	}
	for i, want := range phaseOrder {
		if report.Results[i].Name != want {
			t.Errorf("phase %d = %q, want %q", i, report.Results[i].Name, want)
		}
		if report.Results[i].Status != StatusSucceeded {
			t.Errorf("phase %q status = %q, want succeeded", want, report.Results[i].Status)
		}
	}

	var sawCrypttab bool
	for _, cmd := range ft.commands {
		if strings.Contains(cmd, "crypttab") && strings.Contains(cmd, "luks /dev/nvme0n1p4 /etc/luks.key luks") {
			sawCrypttab = true
		}
	}
	if !sawCrypttab {
		t.Error("expected a crypttab write referencing /dev/nvme0n1p4")
	}
}

func TestRunNeverPutsSecretsOnArgv(t *testing.T) {
	ft := &fakeTransport{checkSilentFalse: absentMarkers}
	cfg := happyPathCfg()
	o := New(ft, cfg, WithLogger(logger.NewNull()))

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, cmd := range ft.commands {
		if strings.Contains(cmd, cfg.LuksPassphrase) {
			t.Fatalf("luks passphrase leaked into a command string: %q", cmd)
		}
		if strings.Contains(cmd, cfg.RootPassword) {
			t.Fatalf("root password leaked into a command string: %q", cmd)
		}
	}
}

func TestRunStrictModeContinuesThroughRemainingPhasesAfterFailure(t *testing.T) {
	ft := &fakeTransport{
		checkSilentFalse: absentMarkers,
		failSubstrings:   map[string]int{"zpool create": 100},
	}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()))

	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to return an error when a phase fails")
	}
	if !report.Failed() {
		t.Fatal("expected report.Failed() to be true")
	}
	if len(report.Results) != len(phaseOrder) {
		t.Fatalf("strict mode must still enter every phase for diagnostics: got %d results, want %d", len(report.Results), len(phaseOrder))
	}
	var zfsStatus Status
	for _, res := range report.Results {
		if res.Name == PhaseZFS {
			zfsStatus = res.Status
		}
	}
	if zfsStatus != StatusFailed {
		t.Errorf("zfs phase status = %q, want failed", zfsStatus)
	}
	if report.DebugLog == "" {
		t.Error("expected a debug log path to be recorded on failure")
	}
}

func TestRunHoldOnFailureStopsImmediatelyAndParks(t *testing.T) {
	ft := &fakeTransport{
		checkSilentFalse: absentMarkers,
		failSubstrings:   map[string]int{"zpool create": 100},
	}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()), WithHoldOnFailure(true))

	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !report.Held {
		t.Error("expected report.Held to be true")
	}

	var sawBase bool
	for _, res := range report.Results {
		if res.Name == PhaseBase {
			sawBase = true
		}
	}
	if sawBase {
		t.Error("hold-on-failure must not enter phases after the one that failed")
	}

	var sawKeepAlive bool
	for _, cmd := range ft.commands {
		if strings.Contains(cmd, "while true; do sleep 3600; done") {
			sawKeepAlive = true
		}
	}
	if !sawKeepAlive {
		t.Error("expected a keep-alive loop to be issued in hold mode")
	}
}

func TestValidationFailureNeverIssuesAnySSHCommand(t *testing.T) {
	ft := &fakeTransport{}
	cfg := happyPathCfg()
	cfg.LuksPassphrase = ""
	o := New(ft, cfg, WithLogger(logger.NewNull()))

	if _, err := o.Run(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if len(ft.commands) != 0 {
		t.Errorf("expected no commands issued on validation failure, got %d", len(ft.commands))
	}
}

func TestPreflightFallsBackToOldReleasesMirror(t *testing.T) {
	// "archive.ubuntu.com" only appears in the primary mirror's curl
	// check (config.ForLenServ003's default DebootstrapMirror); marking
	// it absent simulates the primary mirror failing its HEAD check
	// while leaving the old-releases fallback check unmatched (so it
	// reports reachable).
	ft := &fakeTransport{
		checkSilentFalse: append([]string{"archive.ubuntu.com"}, absentMarkers...),
	}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()))

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sawFallbackDebootstrap bool
	for _, cmd := range ft.commands {
		if strings.HasPrefix(cmd, "debootstrap") && strings.Contains(cmd, "old-releases.ubuntu.com") {
			sawFallbackDebootstrap = true
		}
	}
	if !sawFallbackDebootstrap {
		t.Error("expected debootstrap to run against the old-releases mirror after the primary failed preflight")
	}
}

func TestDryRunIssuesNoRealCommandsButStillSucceeds(t *testing.T) {
	o := New(&fakeTransport{}, happyPathCfg(), WithLogger(logger.NewNull()), WithDryRun(true))

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatal("dry-run should report every phase as succeeded")
	}
}

func TestCollectAndDownloadDebugInfoWritesLocalFile(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTransport{
		checkSilentFalse: absentMarkers,
		failSubstrings:   map[string]int{"zpool create": 100},
	}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()), WithLocalFS(vfs.OSFS), WithLocalLogDir(dir))

	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if report.DebugLog == "" {
		t.Fatal("expected a debug log path")
	}
	data, readErr := vfs.OSFS.ReadFile(report.DebugLog)
	if readErr != nil {
		t.Fatalf("ReadFile(%s): %v", report.DebugLog, readErr)
	}
	if !strings.Contains(string(data), "fake debug output") {
		t.Errorf("debug log contents = %q, missing fake debug output", string(data))
	}
}

func TestInvestigateOnlyIssuesNoInstallCommands(t *testing.T) {
	ft := &fakeTransport{}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()), WithInvestigateOnly(true))

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("expected no phase results in investigate-only mode, got %d", len(report.Results))
	}
	for _, cmd := range ft.commands {
		if strings.HasPrefix(cmd, "zpool create") || strings.HasPrefix(cmd, "debootstrap") {
			t.Errorf("investigate-only issued an install command: %q", cmd)
		}
	}
}

func TestPreflightRecoversResidualStateBeforePartitioning(t *testing.T) {
	// Leaving "bpool"/"rpool"/"cryptsetup status" out of
	// checkSilentFalse makes the Investigator see residual pools and an
	// open mapper, which must trigger the recovery cascade before any
	// partitioning happens.
	ft := &fakeTransport{checkSilentFalse: []string{"zfs list -H", "mountpoint -q"}}
	o := New(ft, happyPathCfg(), WithLogger(logger.NewNull()))

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	idx := func(substr string) int {
		for i, cmd := range ft.commands {
			if strings.Contains(cmd, substr) {
				return i
			}
		}
		return -1
	}

	exportAll := idx("zpool export -a")
	destroyRpool := idx("zpool destroy rpool")
	closeLuks := idx("cryptsetup close luks")
	wipe := idx("wipefs -a")
	newGPT := idx("sgdisk -o")

	for name, i := range map[string]int{
		"zpool export -a": exportAll, "zpool destroy rpool": destroyRpool,
		"cryptsetup close luks": closeLuks, "wipefs -a": wipe, "sgdisk -o": newGPT,
	} {
		if i < 0 {
			t.Fatalf("expected command containing %q in the recorded stream", name)
		}
	}
	if !(exportAll < destroyRpool && destroyRpool < closeLuks && closeLuks < wipe && wipe < newGPT) {
		t.Errorf("recovery commands out of order: export=%d destroy=%d close=%d wipe=%d gpt=%d",
			exportAll, destroyRpool, closeLuks, wipe, newGPT)
	}
}

func TestPauseAfterStorageBlocksOnConfirmAfterZfsPhase(t *testing.T) {
	ft := &fakeTransport{checkSilentFalse: absentMarkers}
	confirmed := false
	o := New(ft, happyPathCfg(),
		WithLogger(logger.NewNull()),
		WithPauseAfterStorage(true),
		WithConfirm(func() bool { confirmed = true; return true }),
	)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !confirmed {
		t.Error("pause-after-storage never invoked the operator confirmation")
	}
	if report.Failed() {
		t.Error("run should still complete after the operator confirms")
	}
}
