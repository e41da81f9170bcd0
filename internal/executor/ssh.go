package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
)

const defaultDialTimeout = 15 * time.Second

/**
 * SSHExecutor runs commands over SSH
 * @description
 * - One client connection is cached per target and reused across commands
 * - A cached connection that can no longer open sessions is dropped and redialed once
 * - Each command runs in its own session, bounded by its timeout
 */
type SSHExecutor struct {
	DialTimeout time.Duration
	clients     map[string]*ssh.Client
	mu          sync.Mutex
	dial        func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)
}

func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{
		DialTimeout: defaultDialTimeout,
		clients:     make(map[string]*ssh.Client),
		dial:        ssh.Dial,
	}
}

func (e *SSHExecutor) Execute(ctx context.Context, target *models.Target, command string, timeout time.Duration) (*Result, error) {
	timeout = normalizeTimeout(timeout)
	logger.Debugf("[%s] ssh exec on %s: %s", target.Name, target.Address(), command)

	session, err := e.newSession(target)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	// ctx 取消不影响远程命令，只有超时会中断它
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, &models.ExecutionError{
			Kind:    models.ExecTimeout,
			Command: command,
			Err:     fmt.Errorf("command did not finish within %v", timeout),
		}
	}

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nonZeroExit(command, res)
	}
	// 连接在命令执行过程中断开
	e.drop(target.Name)
	return nil, &models.ExecutionError{
		Kind:    models.ExecConnectionRefused,
		Command: command,
		Err:     err,
	}
}

func (e *SSHExecutor) newSession(target *models.Target) (*ssh.Session, error) {
	client, cached, err := e.client(target)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}
	e.drop(target.Name)
	if !cached {
		return nil, &models.ExecutionError{Kind: models.ExecConnectionRefused, Err: err}
	}
	logger.Infof("[%s] cached ssh connection is stale, redialing", target.Name)
	client, _, err = e.client(target)
	if err != nil {
		return nil, err
	}
	session, err = client.NewSession()
	if err != nil {
		e.drop(target.Name)
		return nil, &models.ExecutionError{Kind: models.ExecConnectionRefused, Err: err}
	}
	return session, nil
}

// client 拨号时不持有锁，一个慢目标不会阻塞其它目标
func (e *SSHExecutor) client(target *models.Target) (*ssh.Client, bool, error) {
	e.mu.Lock()
	c, ok := e.clients[target.Name]
	e.mu.Unlock()
	if ok {
		return c, true, nil
	}

	cfg, err := clientConfig(target, e.DialTimeout)
	if err != nil {
		return nil, false, err
	}
	c, err = e.dial("tcp", target.Address(), cfg)
	if err != nil {
		return nil, false, classifyDialError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// 并发拨号时保留先缓存的连接
	if existing, ok := e.clients[target.Name]; ok {
		c.Close()
		return existing, true, nil
	}
	e.clients[target.Name] = c
	return c, false, nil
}

func (e *SSHExecutor) drop(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[name]; ok {
		c.Close()
		delete(e.clients, name)
	}
}

// Close closes every cached connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var last error
	for name, c := range e.clients {
		if err := c.Close(); err != nil {
			last = err
		}
		delete(e.clients, name)
	}
	return last
}

func clientConfig(target *models.Target, dialTimeout time.Duration) (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod
	if target.KeyFile != "" {
		pem, err := os.ReadFile(expandHome(target.KeyFile))
		if err != nil {
			return nil, &models.ExecutionError{Kind: models.ExecAuthFailure, Err: fmt.Errorf("read key file: %w", err)}
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, &models.ExecutionError{Kind: models.ExecAuthFailure, Err: fmt.Errorf("parse key file: %w", err)}
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if target.Password != "" {
		auths = append(auths, ssh.Password(target.Password))
	}
	if len(auths) == 0 {
		return nil, &models.ExecutionError{Kind: models.ExecAuthFailure, Err: fmt.Errorf("target '%s' has no key file or password", target.Name)}
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if target.KnownHosts != "" {
		cb, err := knownhosts.New(expandHome(target.KnownHosts))
		if err != nil {
			return nil, &models.ExecutionError{Kind: models.ExecAuthFailure, Err: fmt.Errorf("load known_hosts: %w", err)}
		}
		hostKeyCallback = cb
	} else {
		logger.Warnf("[%s] host key verification disabled (no known_hosts configured)", target.Name)
	}

	return &ssh.ClientConfig{
		User:            target.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}, nil
}

func classifyDialError(err error) error {
	kind := models.ExecConnectionRefused
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = models.ExecTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = models.ExecConnectionRefused
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "knownhosts:"):
		kind = models.ExecAuthFailure
	}
	return &models.ExecutionError{Kind: kind, Err: err}
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + p[1:]
		}
	}
	return p
}
