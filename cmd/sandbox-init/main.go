//go:build linux

// sandbox-init is the resource-limiter shim interposed between the
// worker and each sandboxed program. It applies resource limits taken
// from its environment, restores default signal dispositions, closes
// inherited descriptors beyond the stdio trio, optionally loads a
// seccomp filter, and execs the target named after the "--" delimiter.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"unsafe"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"

	"courier/internal/sandbox"
)

// seccompEnvVar optionally names a seccomp profile file. Like the
// limits variable it is consumed and removed before exec.
const seccompEnvVar = "_SANDBOX_SECCOMP_"

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "sandbox-init: "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	target, targetArgs, err := splitArgs(args)
	if err != nil {
		return err
	}

	if raw, ok := os.LookupEnv(sandbox.RlimitsEnvVar); ok {
		limits, err := sandbox.DecodeRlimitsEnv(raw)
		if err != nil {
			return err
		}
		if err := applyRlimits(limits); err != nil {
			return err
		}
		if err := os.Unsetenv(sandbox.RlimitsEnvVar); err != nil {
			return fmt.Errorf("unset limits variable: %w", err)
		}
	}

	if profile := os.Getenv(seccompEnvVar); profile != "" {
		if err := applySeccomp(profile); err != nil {
			return err
		}
		if err := os.Unsetenv(seccompEnvVar); err != nil {
			return fmt.Errorf("unset seccomp variable: %w", err)
		}
	}

	if err := resetSignals(); err != nil {
		return err
	}
	closeInheritedFiles()

	path, err := exec.LookPath(target)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	return unix.Exec(path, append([]string{target}, targetArgs...), os.Environ())
}

// splitArgs separates shim options from the target command at the "--"
// delimiter. Everything after the delimiter belongs to the target, so
// a target whose own arguments contain "--" is passed through intact.
func splitArgs(args []string) (string, []string, error) {
	for i, arg := range args {
		if arg == "--" {
			rest := args[i+1:]
			if len(rest) == 0 {
				return "", nil, fmt.Errorf("no target after %q delimiter", "--")
			}
			return rest[0], rest[1:], nil
		}
	}
	return "", nil, fmt.Errorf("missing %q delimiter before target", "--")
}

func applyRlimits(limits sandbox.Rlimits) error {
	for id, pair := range limits {
		rl := unix.Rlimit{Cur: pair[0], Max: pair[1]}
		if err := unix.Setrlimit(id, &rl); err != nil {
			return fmt.Errorf("set rlimit %d: %w", id, err)
		}
	}
	return nil
}

// resetSignals restores SIG_DFL for every catchable signal. Ignored
// dispositions survive exec, so an inherited SIG_IGN would otherwise
// leak into the sandboxed program.
func resetSignals() error {
	// Kernel sigaction layout for rt_sigaction(2). A zero handler is
	// SIG_DFL, which needs no restorer.
	var sa struct {
		handler  uintptr
		flags    uint64
		restorer uintptr
		mask     uint64
	}
	for sig := 1; sig <= int(unix.SIGSYS); sig++ {
		if sig == int(unix.SIGKILL) || sig == int(unix.SIGSTOP) {
			continue
		}
		_, _, errno := unix.Syscall6(unix.SYS_RT_SIGACTION,
			uintptr(sig), uintptr(unsafe.Pointer(&sa)), 0, 8, 0, 0)
		if errno != 0 {
			return fmt.Errorf("reset signal %d: %w", sig, errno)
		}
	}
	return nil
}

// closeInheritedFiles closes every descriptor above stderr. Failures
// are ignored; a descriptor that cannot be closed here would not have
// been usable by the target either.
func closeInheritedFiles() {
	if err := unix.CloseRange(3, ^uint(0), 0); err == nil {
		return
	}
	// close_range is missing on older kernels.
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return
	}
	for _, entry := range entries {
		fd, err := strconv.Atoi(entry.Name())
		if err != nil || fd <= 2 {
			continue
		}
		_ = unix.Close(fd)
	}
}

func parseSeccompConfig(data []byte) (seccompConfig, error) {
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return seccompConfig{}, fmt.Errorf("parse seccomp profile: %w", err)
	}
	return cfg, nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func applySeccomp(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	cfg, err := parseSeccompConfig(data)
	if err != nil {
		return err
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			sc, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				return fmt.Errorf("resolve syscall %s: %w", name, err)
			}
			if err := filter.AddRuleExact(sc, action); err != nil {
				return fmt.Errorf("add seccomp rule for %s: %w", name, err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch action {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action %q", action)
	}
}
