package config

import (
	"os"
	"sync"
)

var (
	dockerOnce sync.Once
	inDocker   bool
)

// IsRunningInDocker reports whether the process is inside a Docker
// container, detected via the /.dockerenv marker file. The result is
// cached after the first check.
func IsRunningInDocker() bool {
	dockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	return inDocker
}

// ResolveHostForDocker remaps loopback database hosts to
// host.docker.internal when running inside a container. A containerized
// engine pointed at "localhost" would otherwise try to reach Postgres
// inside its own network namespace. Non-loopback hosts pass through
// unchanged, as does everything when not containerized.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1":
		return "host.docker.internal"
	}
	return host
}
