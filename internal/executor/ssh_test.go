package executor

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"deploy-keeper/internal/models"
)

func sshTarget(name, host string) *models.Target {
	return &models.Target{Name: name, Transport: models.TransportSSH, Host: host, Port: 22, User: "deploy", Password: "secret", Root: "/srv/app"}
}

func TestSSHClientDialsWithoutHoldingLock(t *testing.T) {
	slowDialing := make(chan struct{})
	unblock := make(chan struct{})
	e := NewSSHExecutor()
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		if addr == "slow.example:22" {
			close(slowDialing)
			<-unblock
		}
		return nil, syscall.ECONNREFUSED
	}

	slowDone := make(chan error, 1)
	go func() {
		_, _, err := e.client(sshTarget("slow", "slow.example"))
		slowDone <- err
	}()
	<-slowDialing

	// 另一个目标的拨号不等待慢目标
	fastDone := make(chan error, 1)
	go func() {
		_, _, err := e.client(sshTarget("fast", "fast.example"))
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		var ee *models.ExecutionError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, models.ExecConnectionRefused, ee.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("dial of fast target blocked behind slow target")
	}

	close(unblock)
	require.Error(t, <-slowDone)
	assert.Empty(t, e.clients, "failed dials are not cached")
}

func TestSSHClientRequiresCredentials(t *testing.T) {
	e := NewSSHExecutor()
	dialed := false
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		dialed = true
		return nil, errors.New("unreachable")
	}
	target := sshTarget("bare", "bare.example")
	target.Password = ""

	_, _, err := e.client(target)
	assert.Equal(t, "TransportError.AuthFailure", models.KindOf(err))
	assert.False(t, dialed)
}
