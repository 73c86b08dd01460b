package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/infodancer/pop3d/internal/config"
)

// applyPrivilegeDrop changes the working directory, umask and process
// identity per cfg, in that order, before any listener is bound. Unset
// fields are no-ops. Linux-only: Setgid must run before Setuid, since
// dropping the user id first would remove permission to change the group.
func applyPrivilegeDrop(cfg config.PrivilegeConfig) error {
	if cfg.WorkingDirectory != "" {
		if err := os.Chdir(cfg.WorkingDirectory); err != nil {
			return fmt.Errorf("changing working directory to %q: %w", cfg.WorkingDirectory, err)
		}
	}

	if cfg.Umask != 0 {
		syscall.Umask(cfg.Umask)
	}

	if cfg.Group != "" {
		gid, err := resolveGroupID(cfg.Group)
		if err != nil {
			return fmt.Errorf("resolving group %q: %w", cfg.Group, err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}

	if cfg.User != "" {
		uid, err := resolveUserID(cfg.User)
		if err != nil {
			return fmt.Errorf("resolving user %q: %w", cfg.User, err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}

	return nil
}

func resolveUserID(name string) (int, error) {
	if uid, err := strconv.Atoi(name); err == nil {
		return uid, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func resolveGroupID(name string) (int, error) {
	if gid, err := strconv.Atoi(name); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
