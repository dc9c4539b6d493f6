//go:build linux

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// seccompDataArgsOffset is the byte offset of args[0] in struct seccomp_data
// from <linux/seccomp.h>: nr is a 4-byte field at offset 0, arch is 4 bytes
// at offset 4, instruction_pointer is 8 bytes at offset 8, and args[0]
// follows at offset 16 on every architecture this engine targets.
const seccompDataArgsOffset = 16

const (
	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000 // OR'd with the errno in the low 16 bits
)

// allowedSyscalls is the default-deny allow-list of spec §4.2 step 6: only
// syscalls a sandboxed command plausibly needs to run, read/write its own
// descriptors, and exit. Anything else returns EPERM. clone is allow-listed
// but gated separately by buildSeccompFilter's argument check, so a
// sandboxed process can still fork/exec subprocesses but cannot nest
// another user namespace to re-widen its own capability bounding set.
var allowedSyscalls = []uintptr{
	unix.SYS_READ, unix.SYS_WRITE, unix.SYS_CLOSE, unix.SYS_FSTAT, unix.SYS_LSEEK,
	unix.SYS_MMAP, unix.SYS_MPROTECT, unix.SYS_MUNMAP, unix.SYS_BRK,
	unix.SYS_RT_SIGACTION, unix.SYS_RT_SIGPROCMASK, unix.SYS_RT_SIGRETURN,
	unix.SYS_IOCTL, unix.SYS_PREAD64, unix.SYS_PWRITE64, unix.SYS_READV, unix.SYS_WRITEV,
	unix.SYS_ACCESS, unix.SYS_PIPE, unix.SYS_SELECT, unix.SYS_SCHED_YIELD,
	unix.SYS_MREMAP, unix.SYS_MSYNC, unix.SYS_MINCORE, unix.SYS_MADVISE,
	unix.SYS_DUP, unix.SYS_DUP2, unix.SYS_PAUSE, unix.SYS_NANOSLEEP,
	unix.SYS_GETPID, unix.SYS_GETPPID, unix.SYS_GETUID, unix.SYS_GETGID,
	unix.SYS_GETEUID, unix.SYS_GETEGID, unix.SYS_SETPGID, unix.SYS_GETPGID,
	unix.SYS_GETSID, unix.SYS_SETSID, unix.SYS_UNAME,
	unix.SYS_FCNTL, unix.SYS_FLOCK, unix.SYS_FSYNC, unix.SYS_FDATASYNC,
	unix.SYS_TRUNCATE, unix.SYS_FTRUNCATE, unix.SYS_GETDENTS64,
	unix.SYS_GETCWD, unix.SYS_CHDIR, unix.SYS_FCHDIR, unix.SYS_RENAME,
	unix.SYS_MKDIR, unix.SYS_RMDIR, unix.SYS_CREAT, unix.SYS_UNLINK,
	unix.SYS_READLINK, unix.SYS_CHMOD, unix.SYS_FCHMOD, unix.SYS_CHOWN, unix.SYS_FCHOWN,
	unix.SYS_UMASK, unix.SYS_GETRLIMIT, unix.SYS_GETRUSAGE,
	unix.SYS_SYSINFO, unix.SYS_TIMES, unix.SYS_GETTIMEOFDAY, unix.SYS_CLOCK_GETTIME,
	unix.SYS_CLOCK_NANOSLEEP, unix.SYS_EXIT, unix.SYS_EXIT_GROUP,
	unix.SYS_WAIT4, unix.SYS_KILL, unix.SYS_TGKILL,
	unix.SYS_CLONE, unix.SYS_EXECVE, unix.SYS_FORK, unix.SYS_VFORK,
	unix.SYS_OPENAT, unix.SYS_MKDIRAT, unix.SYS_UNLINKAT, unix.SYS_RENAMEAT,
	unix.SYS_FSTATAT, unix.SYS_FACCESSAT, unix.SYS_READLINKAT,
	unix.SYS_PPOLL, unix.SYS_EPOLL_CREATE1, unix.SYS_EPOLL_CTL, unix.SYS_EPOLL_WAIT,
	unix.SYS_EVENTFD2, unix.SYS_SIGNALFD4, unix.SYS_TIMERFD_CREATE,
	unix.SYS_PRLIMIT64, unix.SYS_SET_TID_ADDRESS, unix.SYS_SET_ROBUST_LIST,
	unix.SYS_RSEQ, unix.SYS_ARCH_PRCTL, unix.SYS_GETRANDOM,
	unix.SYS_STATX, unix.SYS_FUTEX, unix.SYS_RESTART_SYSCALL,
}

// installSeccomp builds and installs the default-deny allow-list filter.
// It must run after no_new_privs is set and after capability dropping, as
// the last step before exec (spec §4.2 step 6).
func installSeccomp() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no_new_privs: %w", err)
	}
	prog, err := buildSeccompFilter(allowedSyscalls)
	if err != nil {
		return err
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	_, _, errno := unix.Syscall(unix.SYS_SECCOMP, unix.SECCOMP_SET_MODE_FILTER, 0, uintptr(unsafe.Pointer(&fprog)))
	if errno != 0 {
		return fmt.Errorf("seccomp install: %w", errno)
	}
	return nil
}

// buildSeccompFilter assembles the classic BPF program in one forward pass
// (classic BPF jumps are relative and forward-only, so instruction offsets
// below are computed, not patched after the fact). The program has two
// gates ahead of the allow-list:
//
//	0: LD  nr
//	1: JEQ SYS_CLONE     jt=0 (fall through)      jf=-> 6 (reload, skip gate)
//	2: LD  args[0]
//	3: AND CLONE_NEWUSER
//	4: JEQ 0             jt=-> 6 (no NEWUSER, continue)  jf=0 (fall through)
//	5: RET ERRNO(EPERM)                            (clone+NEWUSER denied)
//	6: LD  nr                                       (allow-list reload)
//	7..7+N-1: JEQ allowed[i]  jt=-> RET ALLOW        jf=0 (fall through)
//	7+N:   RET ERRNO(EPERM)                         (deny-all fallthrough)
//	7+N+1: RET ALLOW
func buildSeccompFilter(allowed []uintptr) ([]unix.SockFilter, error) {
	if len(allowed) == 0 || len(allowed) > 200 {
		return nil, fmt.Errorf("seccomp: allow-list size %d out of range", len(allowed))
	}

	const reloadPC = 6
	prog := []unix.SockFilter{
		stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, 0),                                       // 0
		jump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, uint32(unix.SYS_CLONE), 0, reloadPC-2),   // 1
		stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataArgsOffset),                    // 2
		stmt(unix.BPF_ALU|unix.BPF_AND|unix.BPF_K, uint32(unix.CLONE_NEWUSER)),              // 3
		jump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, 0, reloadPC-5, 0),                        // 4
		ret(seccompRetErrno | uint32(unix.EPERM)),                                           // 5
		stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, 0),                                        // 6
	}

	allowRetPC := len(prog) + len(allowed) + 1 // index of the final RET ALLOW
	for i, nr := range allowed {
		pc := len(prog)
		jt := uint8(allowRetPC - (pc + 1))
		prog = append(prog, jump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, uint32(nr), jt, 0))
		_ = i
	}
	prog = append(prog, ret(seccompRetErrno|uint32(unix.EPERM)))
	prog = append(prog, ret(seccompRetAllow))

	if len(prog) != allowRetPC+1 {
		return nil, fmt.Errorf("seccomp: internal layout error (built %d instructions, expected %d)", len(prog), allowRetPC+1)
	}
	return prog, nil
}

func stmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf int) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k, Jt: uint8(jt), Jf: uint8(jf)}
}

func ret(k uint32) unix.SockFilter {
	return unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: k}
}
