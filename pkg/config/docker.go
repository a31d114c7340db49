package config

import (
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the application is running inside a Docker container.
// Detection is based on the presence of /.dockerenv file which exists in all Docker containers.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// resolveHosts rewrites loopback database and Redis hosts when running in Docker,
// so a containerized registration job can reach services published on the host.
func (c *Config) resolveHosts() {
	if !IsRunningInDocker() {
		return
	}
	c.Database.Host = resolveLoopback(c.Database.Host)
	if c.Redis.Host != "" {
		c.Redis.Host = resolveLoopback(c.Redis.Host)
	}
}

func resolveLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
