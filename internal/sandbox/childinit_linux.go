//go:build linux

package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ChildInit is the entry point cmd/runcage's main() dispatches to when
// os.Args[1] == "__sandbox_init__", before cobra ever parses argv. It runs
// as PID 1 inside the namespaces linuxSandbox.Exec's Cloneflags placed it
// in, reads its childSpec off fd 3, builds the isolated root, drops every
// capability and installs the seccomp filter, and execs the target
// command. It never returns on success — exec replaces this process image.
func ChildInit() {
	spec, err := readChildSpec()
	if err != nil {
		fatalf("read child spec: %v", err)
	}
	if err := buildRoot(spec); err != nil {
		fatalf("build root: %v", err)
	}
	if err := os.Chdir(spec.WorkingDirectory); err != nil {
		fatalf("chdir %s: %v", spec.WorkingDirectory, err)
	}
	if err := dropAllCapabilities(); err != nil {
		fatalf("drop capabilities: %v", err)
	}
	if !spec.DisableSeccomp {
		if err := installSeccomp(); err != nil {
			fatalf("install seccomp: %v", err)
		}
	}

	path, err := lookPath(spec.Command[0], spec.Env)
	if err != nil {
		fatalf("resolve command: %v", err)
	}
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	if err := syscall.Exec(path, spec.Command, env); err != nil {
		fatalf("exec %s: %v", path, err)
	}
}

func readChildSpec() (childSpec, error) {
	f := os.NewFile(3, "spec")
	data, err := readAllFD(f)
	if err != nil {
		return childSpec{}, err
	}
	var spec childSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return childSpec{}, fmt.Errorf("unmarshal: %w", err)
	}
	return spec, nil
}

func readAllFD(f *os.File) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

// fatalf reports a pre-exec failure over the error pipe (fd 4), the only
// channel of communication left once this process has pivoted into its new
// root, and exits. The supervising executor maps whatever it reads here to
// an E2xxx security-setup error (spec §7).
func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if f := os.NewFile(4, "errpipe"); f != nil {
		fmt.Fprintln(f, msg)
		f.Close()
	}
	os.Exit(1)
}

// buildRoot constructs the isolated filesystem root inside spec.RootDir and
// pivots into it (spec §4.2 steps 2-5). Ordering follows the resolved
// ambiguity in SPEC_FULL.md: readonly_paths, then writable_paths, then
// bind_mounts are applied in sequence, each later entry free to override an
// earlier one that targets the same destination.
func buildRoot(spec childSpec) error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("make root private: %w", err)
	}

	newroot := spec.RootDir
	if err := unix.Mount("/", newroot, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind host root: %w", err)
	}
	if err := unix.Mount("", newroot, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("remount root readonly: %w", err)
	}

	for _, p := range spec.ReadonlyPaths {
		if err := bindMount(p, filepath.Join(newroot, p), true); err != nil {
			return fmt.Errorf("readonly_paths %s: %w", p, err)
		}
	}
	for _, p := range spec.WritablePaths {
		if err := bindMount(p, filepath.Join(newroot, p), false); err != nil {
			return fmt.Errorf("writable_paths %s: %w", p, err)
		}
	}
	for _, bm := range spec.BindMounts {
		if err := bindMount(bm.Source, filepath.Join(newroot, bm.Destination), bm.Mode == "ro"); err != nil {
			return fmt.Errorf("bind_mounts %s: %w", bm.Destination, err)
		}
	}

	if err := mountVirtualFS(newroot); err != nil {
		return err
	}

	oldroot := filepath.Join(newroot, ".oldroot")
	if err := os.MkdirAll(oldroot, 0o700); err != nil {
		return fmt.Errorf("mkdir oldroot: %w", err)
	}
	if err := unix.PivotRoot(newroot, oldroot); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir to new root: %w", err)
	}
	if err := unix.Unmount("/.oldroot", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("detach oldroot: %w", err)
	}
	os.RemoveAll("/.oldroot") // best-effort; the mountpoint may already be gone

	return nil
}

// bindMount bind-mounts src onto dst (creating dst as needed) and applies
// the requested access mode via a remount, since a single mount(2) call
// cannot combine MS_BIND with MS_RDONLY.
func bindMount(src, dst string, readonly bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if f, err := os.OpenFile(dst, os.O_CREATE, 0o644); err == nil {
			f.Close()
		}
	}
	if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return err
	}
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_REC)
	if readonly {
		flags |= unix.MS_RDONLY
	}
	return unix.Mount("", dst, "", flags, "")
}

// mountVirtualFS mounts a fresh /proc (scoped to this PID namespace), a
// tmpfs /tmp, and a read-only bind of /dev into the new root.
func mountVirtualFS(newroot string) error {
	proc := filepath.Join(newroot, "proc")
	if err := os.MkdirAll(proc, 0o755); err != nil {
		return err
	}
	if err := unix.Mount("proc", proc, "proc", 0, ""); err != nil {
		return fmt.Errorf("mount proc: %w", err)
	}

	tmp := filepath.Join(newroot, "tmp")
	if err := os.MkdirAll(tmp, 0o1777); err != nil {
		return err
	}
	if err := unix.Mount("tmpfs", tmp, "tmpfs", 0, "size=64m,mode=1777"); err != nil {
		return fmt.Errorf("mount tmp: %w", err)
	}

	dev := filepath.Join(newroot, "dev")
	if err := os.MkdirAll(dev, 0o755); err != nil {
		return err
	}
	if err := unix.Mount("/dev", dev, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind dev: %w", err)
	}
	if err := unix.Mount("", dev, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("remount dev readonly: %w", err)
	}
	return nil
}

// lookPath resolves command[0] against PATH from the spec's environment
// rather than this process's own, since the requested environment is what
// the sandboxed command should see.
func lookPath(file string, env map[string]string) (string, error) {
	if strings.Contains(file, "/") {
		return file, nil
	}
	pathVar := env["PATH"]
	if pathVar == "" {
		pathVar = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	for _, dir := range strings.Split(pathVar, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, file)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: executable file not found in $PATH", file)
}
