// SSH-based maintenance access to hypervisor nodes, for the few operations
// the HTTP API does not cover.
package platform

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHClient wraps an authenticated SSH connection to a hypervisor node.
type SSHClient struct {
	client *ssh.Client
	host   string
}

// NewSSHClient dials the target node with password or key authentication.
func NewSSHClient(host, user, password, keyPEM string) (*SSHClient, error) {
	var authMethods []ssh.AuthMethod

	if keyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(keyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing SSH key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: use known_hosts in production
		Timeout:         15 * time.Second,
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return &SSHClient{client: client, host: host}, nil
}

// Close cleanly shuts down the SSH connection.
func (s *SSHClient) Close() error { return s.client.Close() }

// Run executes a command and returns combined stdout+stderr.
func (s *SSHClient) Run(cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(cmd)
	return string(out), err
}

// NodeUptime returns the node's uptime line, a quick liveness probe for
// nodes whose API is misbehaving.
func (s *SSHClient) NodeUptime() (string, error) {
	out, err := s.Run("uptime")
	if err != nil {
		return "", fmt.Errorf("uptime [%s]: %v: %s", s.host, err, out)
	}
	return strings.TrimSpace(out), nil
}
