// Package lircd inspects the local lircd daemon: whether it is running and
// why its socket may be unreachable. The bridge itself never needs this;
// the commands use it to explain a failed connection.
package lircd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Process struct {
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	CmdLine   string    `json:"cmdline"`
	StartTime time.Time `json:"startTime"`
}

// FindProcesses lists running processes whose name or executable matches
// one of names (e.g. "lircd").
func FindProcesses(ctx context.Context, names []string) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var results []Process
	for _, p := range procs {
		// Processes can exit between listing and inspection; skip them.
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineSliceWithContext(ctx)

		if !matchesProcess(name, cmdline, names) {
			continue
		}

		results = append(results, Process{
			PID:       p.Pid,
			Name:      name,
			CmdLine:   cleanCmdline(cmdline),
			StartTime: startTime(ctx, p),
		})
	}

	return results, nil
}

// matchesProcess reports whether a process called name, started with
// cmdline, is one of names. Both the kernel's process name and the base
// name of argv[0] are checked, since the former is truncated to 15 bytes.
func matchesProcess(name string, cmdline []string, names []string) bool {
	for _, want := range names {
		if want == "" {
			continue
		}
		if name == want {
			return true
		}
		if len(cmdline) > 0 && filepath.Base(cmdline[0]) == want {
			return true
		}
	}
	return false
}

func cleanCmdline(parts []string) string {
	var cleaned []string
	for _, p := range parts {
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, " ")
}

func startTime(ctx context.Context, p *process.Process) time.Time {
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Diagnose explains, in one sentence, why the socket at socketPath is
// probably unusable. It is meant for error messages after a failed
// connection.
func Diagnose(ctx context.Context, socketPath string, names []string) string {
	procs, err := FindProcesses(ctx, names)
	if err != nil {
		return fmt.Sprintf("could not check for a running lircd: %v", err)
	}
	return diagnosis(socketPath, procs, statSocket(socketPath))
}

type socketState int

const (
	socketMissing socketState = iota
	socketNotSocket
	socketPresent
	socketUnknown
)

func statSocket(path string) socketState {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return socketMissing
	case err != nil:
		return socketUnknown
	case info.Mode()&os.ModeSocket == 0:
		return socketNotSocket
	default:
		return socketPresent
	}
}

func diagnosis(socketPath string, procs []Process, state socketState) string {
	if len(procs) == 0 {
		if state == socketPresent {
			return fmt.Sprintf("no lircd process found; %s looks stale", socketPath)
		}
		return "no lircd process found; is lircd running?"
	}

	pids := make([]string, len(procs))
	for i, p := range procs {
		pids[i] = fmt.Sprint(p.PID)
	}
	running := fmt.Sprintf("lircd is running (pid %s)", strings.Join(pids, ", "))

	switch state {
	case socketMissing:
		return fmt.Sprintf("%s but %s does not exist; check its --output option", running, socketPath)
	case socketNotSocket:
		return fmt.Sprintf("%s but %s is not a socket", running, socketPath)
	default:
		return fmt.Sprintf("%s but %s refused the connection; check permissions", running, socketPath)
	}
}
