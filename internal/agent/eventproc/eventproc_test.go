package eventproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdb/internal/agent/event"
)

func TestProcessExcludesShortLines(t *testing.T) {
	p := New("host1", nil)
	e := p.Process("syslog", "too short", "agent1")
	assert.True(t, e.IsZero())
}

func TestProcessExcludesConfiguredPattern(t *testing.T) {
	p := New("host1", []string{"noisy-health-check"})
	line := "Jan  1 00:00:00 host proc[123]: noisy-health-check ping ok"
	e := p.Process("syslog", line, "agent1")
	assert.True(t, e.IsZero())
}

func TestProcessAuditdExtractsTypeAndUser(t *testing.T) {
	p := New("host1", nil)
	line := `type=USER_LOGIN msg=audit(1700000000.123:456): pid=100 auid=0 uid=0 comm="sshd" res=success`
	e := p.Process("auditd", line, "agent1")
	require.False(t, e.IsZero())
	assert.Equal(t, "USER_LOGIN", e.EventType)
	assert.Equal(t, "root", e.User)
	assert.Equal(t, "sshd", e.Process)
	assert.Equal(t, "2023-11-14T22:13:20Z", e.Timestamp)
}

func TestProcessSyslogFailedPasswordIsHighSeverity(t *testing.T) {
	p := New("host1", nil)
	line := "Jan  1 00:00:01 myhost sshd[1000]: Failed password for baduser from 10.0.0.1 port 22 ssh2"
	e := p.Process("auth", line, "agent1")
	require.False(t, e.IsZero())
	assert.Equal(t, "failed_login", e.EventType)
	assert.Equal(t, "high", e.Severity)
	assert.Equal(t, "baduser", e.User)
}

func TestProcessBashHistoryKeepsCommandAndFlagsDangerous(t *testing.T) {
	p := New("host1", nil)
	e := p.Process("bash_history", "sudo rm -rf /tmp/build-artifacts", "agent1")
	require.False(t, e.IsZero())
	assert.Equal(t, "shell_command", e.EventType)
	assert.Equal(t, "bash", e.Process)
	assert.Equal(t, "medium", e.Severity)
}

func TestProcessWithBaseKeepsPathDerivedUserAndTimestamp(t *testing.T) {
	p := New("host1", nil)
	base := event.SecurityEvent{
		Source:    "bash_history",
		User:      "carol",
		Timestamp: "2024-05-01T10:00:00Z",
	}
	e := p.ProcessWithBase(base, "ls -la /etc/passwd/backup", "agent1")
	require.False(t, e.IsZero())
	assert.Equal(t, "carol", e.User)
	assert.Equal(t, "2024-05-01T10:00:00Z", e.Timestamp)
	assert.Equal(t, "shell_command", e.EventType)
}

func TestValidateUsernameRejectsTimestampLookingStrings(t *testing.T) {
	assert.Equal(t, "", validateUsername("2024-01-01T00:00:00Z"))
	assert.Equal(t, "alice", validateUsername("alice"))
}

func TestDetermineSeverityUnknownTypeIsLow(t *testing.T) {
	assert.Equal(t, "low", determineSeverity("generic", "anything"))
}
