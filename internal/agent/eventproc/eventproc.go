// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventproc implements the event processor (C7): a stateless
// pipeline that turns one raw log line into a event.SecurityEvent. The
// source-specific extraction cascades are ported from the classifier
// tables in the teacher's plugin/tfd classifier, generalized from
// traffic features to log-line features.
package eventproc

import (
	"fmt"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"time"

	"docdb/internal/agent/event"
)

// Processor turns raw log lines into SecurityEvents. It holds no
// per-line state; its configuration is the exclude pattern list and
// the hostname stamped on events.
type Processor struct {
	excludePatterns []string
	hostname        string
}

// New builds a Processor. hostname is stamped on every event it
// produces; excludePatterns are substrings that cause a line to be
// dropped outright.
func New(hostname string, excludePatterns []string) *Processor {
	return &Processor{hostname: hostname, excludePatterns: excludePatterns}
}

// Process runs the full pipeline described in SPEC_FULL.md §4.7 for
// one (source, rawLine) pair. It returns the zero SecurityEvent when
// the line is excluded.
func (p *Processor) Process(source, rawLine, agentID string) event.SecurityEvent {
	if p.shouldExclude(rawLine) {
		return event.SecurityEvent{}
	}

	e := event.SecurityEvent{
		Source:   source,
		AgentID:  agentID,
		RawLog:   rawLine,
		Hostname: p.hostname,
	}

	switch source {
	case "auditd":
		p.enrichAuditd(rawLine, &e)
	case "syslog", "auth":
		p.enrichSyslog(rawLine, &e)
	case "bash_history", "bash_history_user":
		p.enrichBashHistory(rawLine, &e)
	}

	if e.EventType == "" {
		e.EventType = determineEventType(source, rawLine)
	}
	if e.Severity == "" {
		e.Severity = determineSeverity(e.EventType, rawLine)
	}

	if ts := extractTimestamp(source, rawLine); ts != "" {
		e.Timestamp = ts
	} else {
		e.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}

	e.User = validateUsername(e.User)
	if e.User == "" {
		e.User = "unknown"
	}
	return e
}

// ProcessWithBase applies the pipeline to a partially-filled event
// (the shape C6 hands over for bash_history, where path-derived user
// and mtime-derived timestamp are already known). Hostname, RawLog,
// Timestamp and a User other than "unknown" already set on base are
// kept; source enrichment still runs and may overwrite other fields
// (such as EventType), and empty ones are filled the same way Process
// fills them.
func (p *Processor) ProcessWithBase(base event.SecurityEvent, rawLine, agentID string) event.SecurityEvent {
	if p.shouldExclude(rawLine) {
		return event.SecurityEvent{}
	}
	e := base
	e.AgentID = agentID
	if e.Hostname == "" {
		e.Hostname = p.hostname
	}
	if e.RawLog == "" {
		e.RawLog = rawLine
	}

	switch e.Source {
	case "auditd":
		p.enrichAuditd(rawLine, &e)
	case "syslog", "auth":
		p.enrichSyslog(rawLine, &e)
	case "bash_history", "bash_history_user":
		p.enrichBashHistory(rawLine, &e)
	}

	if e.EventType == "" {
		e.EventType = determineEventType(e.Source, rawLine)
	}
	if e.Severity == "" {
		e.Severity = determineSeverity(e.EventType, rawLine)
	}
	if e.Timestamp == "" {
		if ts := extractTimestamp(e.Source, rawLine); ts != "" {
			e.Timestamp = ts
		} else {
			e.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	if e.User == "" || e.User == "unknown" {
		e.User = validateUsername(e.User)
	}
	if e.User == "" {
		e.User = "unknown"
	}
	return e
}

var pureTimestampRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]?\d{2}:\d{2}:\d{2}(\.\d+)?([+-]\d{2}:\d{2}|Z)?$`)

func (p *Processor) shouldExclude(line string) bool {
	if len(line) < 20 {
		return true
	}
	if pureTimestampRegexp.MatchString(strings.TrimSpace(line)) {
		return true
	}
	for _, pattern := range p.excludePatterns {
		if pattern != "" && strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}

// --- auditd ---

var auditdFieldRegexp = regexp.MustCompile(`(\w+)=("[^"]*"|\S*)`)

func auditdField(line, field string) string {
	for _, m := range auditdFieldRegexp.FindAllStringSubmatch(line, -1) {
		if m[1] == field {
			return strings.Trim(m[2], `"`)
		}
	}
	return ""
}

func (p *Processor) enrichAuditd(line string, e *event.SecurityEvent) {
	if e.EventType == "" {
		if t := auditdField(line, "type"); t != "" {
			e.EventType = t
		} else {
			e.EventType = determineEventType("auditd", line)
		}
	}

	if e.User == "" || e.User == "unknown" {
		e.User = resolveAuditUser(line)
	}

	if e.Process == "" || e.Process == "unknown" {
		e.Process = extractAuditdProcess(line, e.EventType)
	}

	if e.Command == "" {
		e.Command = extractAuditdCommand(line, e.EventType)
	}
}

func resolveAuditUser(line string) string {
	for _, field := range []string{"auid", "uid"} {
		raw := auditdField(line, field)
		if raw == "" || raw == "unset" || raw == "-1" {
			continue
		}
		return resolveUID(raw)
	}
	return "unknown"
}

func resolveUID(raw string) string {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "unknown"
	}
	if n == 0 {
		return "root"
	}
	if n < 1000 {
		return fmt.Sprintf("uid_%d", n)
	}
	if u, err := user.LookupId(raw); err == nil && u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("uid_%d", n)
}

func extractAuditdProcess(line, eventType string) string {
	if comm := auditdField(line, "comm"); comm != "" && comm != "?" && len(comm) < 50 {
		return comm
	}
	if exe := auditdField(line, "exe"); exe != "" && exe != "?" {
		if idx := strings.LastIndex(exe, "/"); idx >= 0 && idx+1 < len(exe) {
			return exe[idx+1:]
		}
		return exe
	}
	switch eventType {
	case "AVC":
		return "apparmor"
	case "SYSCALL":
		return "syscall"
	case "PROCTITLE":
		return "unknown_proc"
	case "USER_LOGIN":
		return "login"
	case "USER_CMD":
		return "user_cmd"
	default:
		return "auditd"
	}
}

func extractAuditdCommand(line, eventType string) string {
	switch eventType {
	case "PROCTITLE":
		if raw := auditdField(line, "proctitle"); raw != "" {
			if decoded, ok := decodeHexProctitle(raw); ok {
				return decoded
			}
			return raw
		}
	case "EXECVE":
		return extractExecveCommand(line)
	case "USER_CMD":
		if cmd := auditdField(line, "cmd"); cmd != "" {
			return cmd
		}
	}
	return auditdField(line, "cmd")
}

func decodeHexProctitle(raw string) (string, bool) {
	if len(raw)%2 != 0 || raw == "" {
		return "", false
	}
	out := make([]byte, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		b, err := strconv.ParseUint(raw[i:i+2], 16, 8)
		if err != nil {
			return "", false
		}
		out = append(out, byte(b))
	}
	decoded := strings.ReplaceAll(string(out), "\x00", " ")
	return strings.TrimSpace(decoded), true
}

var execveArgRegexp = regexp.MustCompile(`a(\d+)=("[^"]*"|\S*)`)

func extractExecveCommand(line string) string {
	matches := execveArgRegexp.FindAllStringSubmatch(line, -1)
	args := make([]string, len(matches))
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(args) {
			continue
		}
		args[idx] = strings.Trim(m[2], `"`)
	}
	return strings.Join(args, " ")
}

// --- syslog / auth ---

// syslogLineRegexp locates the "process[pid]: message" tail common to
// rsyslog/journald lines regardless of how many timestamp/hostname
// tokens precede it.
var syslogLineRegexp = regexp.MustCompile(`(\S+?)(?:\[(\d+)\])?:\s+(.*)$`)

func (p *Processor) enrichSyslog(line string, e *event.SecurityEvent) {
	m := syslogLineRegexp.FindStringSubmatch(line)
	if m == nil {
		e.EventType = determineEventType("syslog", line)
		e.Severity = determineSeverity(e.EventType, line)
		if e.User == "" || e.User == "unknown" {
			e.User = extractSyslogUser(line)
		}
		return
	}
	process, message := m[1], m[3]
	if e.Process == "" || e.Process == "unknown" {
		e.Process = process
	}
	if e.EventType == "" {
		e.EventType = determineEventType("syslog", message)
	}
	if e.Severity == "" {
		e.Severity = determineSeverity(e.EventType, message)
	}
	if e.User == "" || e.User == "unknown" {
		e.User = extractSyslogUser(message)
	}
	if e.Command == "" {
		e.Command = message
	}
}

var (
	sshUserRegexp   = regexp.MustCompile(`(?:Accepted|Failed).*?(?:for|user)\s+(\S+)`)
	sudoUserRegexp  = regexp.MustCompile(`(?:session\s+(?:opened|closed)\s+for\s+user|USER=)\s*(\S+)`)
	genericUserRegexp = regexp.MustCompile(`user\s*=\s*(\S+)`)
)

func extractSyslogUser(line string) string {
	if strings.Contains(line, "Accepted") || strings.Contains(line, "Failed") {
		if m := sshUserRegexp.FindStringSubmatch(line); m != nil {
			user := strings.TrimRight(m[1], ";")
			if user != "invalid" {
				return user
			}
		}
	}
	if strings.Contains(line, "sudo:") {
		if m := sudoUserRegexp.FindStringSubmatch(line); m != nil {
			return strings.TrimRight(m[1], ";")
		}
	}
	if m := genericUserRegexp.FindStringSubmatch(line); m != nil {
		return strings.TrimRight(m[1], ";")
	}
	return "unknown"
}

// --- bash history ---

func (p *Processor) enrichBashHistory(line string, e *event.SecurityEvent) {
	e.EventType = "shell_command"
	e.Process = "bash"
	e.Command = line
	if e.User == "" {
		e.User = "bash_user"
	}
}

// --- event type / severity ---

var eventTypeKeywords = []struct {
	keyword   string
	eventType string
}{
	{"failed password", "failed_login"},
	{"accepted password", "login_success"},
	{"invalid user", "invalid_user"},
	{"session opened", "session_open"},
	{"session closed", "session_close"},
	{"authentication failure", "pam_failure"},
}

func determineEventType(source, line string) string {
	lower := strings.ToLower(line)
	for _, kw := range eventTypeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.eventType
		}
	}
	if source == "bash_history" || source == "bash_history_user" {
		return "shell_command"
	}
	return "generic"
}

var dangerousCommandSubstrings = []string{"sudo", "rm -rf", "chmod 777", "/etc/shadow", "passwd"}

func determineSeverity(eventType, line string) string {
	switch eventType {
	case "failed_login", "invalid_user", "brute_force":
		return "high"
	case "login_success", "session_open", "session_close", "pam_failure":
		return "medium"
	case "shell_command":
		for _, sub := range dangerousCommandSubstrings {
			if strings.Contains(line, sub) {
				return "medium"
			}
		}
		return "low"
	default:
		return "low"
	}
}

// --- timestamp extraction ---

var (
	syslogTimestampRegexp = regexp.MustCompile(`^(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
	isoTimestampRegexp    = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)`)
	auditdTimeRegexp      = regexp.MustCompile(`msg=audit\((\d+)\.(\d+):`)
)

func extractTimestamp(source, line string) string {
	if m := auditdTimeRegexp.FindStringSubmatch(line); m != nil {
		sec, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.Unix(sec, 0).UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	if m := isoTimestampRegexp.FindStringSubmatch(line); m != nil {
		if t, err := time.Parse(time.RFC3339, normalizeRFC3339(m[1])); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	if source == "syslog" || source == "auth" {
		if m := syslogTimestampRegexp.FindStringSubmatch(line); m != nil {
			if t, err := time.Parse("Jan _2 15:04:05 2006", m[1]+" "+strconv.Itoa(time.Now().Year())); err == nil {
				return t.UTC().Format("2006-01-02T15:04:05Z")
			}
		}
	}
	return ""
}

func normalizeRFC3339(s string) string {
	if !strings.HasSuffix(s, "Z") && !strings.Contains(s[19:], "+") && !strings.Contains(s[19:], "-") {
		return s + "Z"
	}
	return s
}

// --- username validation ---

func validateUsername(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || u == "unknown" {
		return u
	}
	if pureTimestampRegexp.MatchString(u) {
		return ""
	}
	if strings.ContainsAny(u, "/\\") {
		return ""
	}
	return u
}
