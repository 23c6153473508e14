package orchestrator

import (
	"fmt"
	"strings"
)

// debugGuide is the fixed remediation block the report prints whenever
// any phase failed.
var debugGuide = []string{
	"/var/log/syslog",
	"dmesg",
	"zpool status",
	"cryptsetup status luks",
	"lsblk",
	"mount",
}

// commonFixes lists the remediation hints the report appends on failure.
var commonFixes = []string{
	"stale pools or mappers: reboot the target into the rescue environment and rerun",
	"unreachable mirror: pass a --hold-on-failure run and inspect connectivity from the target",
	"GRUB install failures: confirm the target firmware is UEFI, not legacy BIOS",
}

// Report is the end-of-run summary: an ordered list of phase results
// plus, on failure, a debugging guide.
type Report struct {
	Hostname   string
	Results    []PhaseResult
	DebugLog string // local path to the downloaded debug archive, if any
	Held     bool
}

// Failed reports whether any recorded phase result is StatusFailed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// String renders the fixed plain-text report block the CLI driver
// prints: "=== INSTALLATION REPORT ===" ...
// "=== END INSTALLATION REPORT ===".
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("=== INSTALLATION REPORT ===\n")
	fmt.Fprintf(&b, "Host: %s\n", r.Hostname)
	for _, res := range r.Results {
		fmt.Fprintf(&b, "Phase %s: %s", res.Name, res.Status)
		if res.Message != "" {
			fmt.Fprintf(&b, " (%s)", res.Message)
		}
		b.WriteString("\n")
	}
	if r.Failed() || r.Held {
		b.WriteString("\n--- DEBUGGING GUIDE ---\n")
		for _, cmd := range debugGuide {
			fmt.Fprintf(&b, "  %s\n", cmd)
		}
		if r.DebugLog != "" {
			fmt.Fprintf(&b, "Debug archive: %s\n", r.DebugLog)
		}
		b.WriteString("\n--- COMMON FIXES ---\n")
		for _, fix := range commonFixes {
			fmt.Fprintf(&b, "  - %s\n", fix)
		}
	}
	if r.Held {
		b.WriteString("\nTarget parked in hold mode; SSH session left open for inspection.\n")
	}
	b.WriteString("=== END INSTALLATION REPORT ===\n")
	return b.String()
}
